package http

import (
	"context"
	"encoding/json"
	"net/http"

	"classquest-battle/internal/app"
	"classquest-battle/internal/domain"
	"go.uber.org/zap"
)

// ControlHandler exposes template authoring and battle control over JSON.
type ControlHandler struct {
	battles *app.BattleService
	bank    *app.QuestionBank
	log     *zap.Logger
}

func NewControlHandler(battles *app.BattleService, bank *app.QuestionBank, log *zap.Logger) *ControlHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ControlHandler{battles: battles, bank: bank, log: log}
}

// Register mounts the control routes on mux.
func (h *ControlHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /templates", h.createTemplate)
	mux.HandleFunc("POST /templates/{id}/questions", h.createQuestion)
	mux.HandleFunc("GET /templates/{id}/questions", h.listQuestions)
	mux.HandleFunc("DELETE /templates/{id}/questions/{questionId}", h.deleteQuestion)
	mux.HandleFunc("POST /battles", h.createBattle)
	mux.HandleFunc("GET /battles/{id}", h.getBattle)
	mux.HandleFunc("GET /battles/{id}/participants", h.listParticipants)
	mux.HandleFunc("POST /battles/{id}/{action}", h.transition)
}

func (h *ControlHandler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl domain.BossTemplate
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_template", "invalid template payload")
		return
	}
	created, err := h.bank.CreateTemplate(r.Context(), tpl)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ControlHandler) createQuestion(w http.ResponseWriter, r *http.Request) {
	var q domain.Question
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_question", "invalid question payload")
		return
	}
	q.TemplateID = r.PathValue("id")
	created, err := h.bank.CreateQuestion(r.Context(), q)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// listQuestions returns the student view; answer keys stay server side.
func (h *ControlHandler) listQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.battles.QuestionsForTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]domain.PublicQuestion, 0, len(questions))
	for _, q := range questions {
		out = append(out, q.Public())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ControlHandler) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.bank.DeleteQuestion(r.Context(), r.PathValue("id"), r.PathValue("questionId")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ControlHandler) createBattle(w http.ResponseWriter, r *http.Request) {
	var spec app.InstanceSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_template", "invalid battle payload")
		return
	}
	inst, err := h.battles.CreateInstance(r.Context(), spec)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app.SnapshotOf(inst))
}

func (h *ControlHandler) getBattle(w http.ResponseWriter, r *http.Request) {
	snap, err := h.battles.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *ControlHandler) listParticipants(w http.ResponseWriter, r *http.Request) {
	members, err := h.battles.MembersOf(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *ControlHandler) transition(w http.ResponseWriter, r *http.Request) {
	var op func(context.Context, string) (domain.BattleInstance, error)
	switch r.PathValue("action") {
	case "launch":
		op = h.battles.Launch
	case "countdown":
		op = h.battles.StartCountdown
	case "start-question":
		op = h.battles.StartQuestion
	case "close-question":
		op = h.battles.CloseQuestion
	case "advance":
		op = h.battles.Advance
	case "abort":
		op = h.battles.Abort
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}
	inst, err := op(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app.SnapshotOf(inst))
}

func (h *ControlHandler) fail(w http.ResponseWriter, err error) {
	code := app.ErrorCode(err)
	if code == "internal" {
		h.log.Error("control request failed", zap.Error(err))
	}
	writeError(w, statusFor(code), code, messageFor(code, err))
}

func statusFor(code string) int {
	switch code {
	case "not_found":
		return http.StatusNotFound
	case "invalid_join_input", "invalid_question", "invalid_template", "invalid_answer_shape", "out_of_range":
		return http.StatusBadRequest
	case "not_enrolled", "spectating":
		return http.StatusForbidden
	case "invalid_battle_phase", "battle_closed", "late_join_rejected", "already_answered":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorPayload{Code: code, Message: message})
}
