package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"classquest-battle/internal/app"
	"classquest-battle/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultAnswerRate  = 5
	defaultAnswerBurst = 10
)

type WSHandler struct {
	service     *app.BattleService
	log         *zap.Logger
	upgrader    websocket.Upgrader
	answerRate  rate.Limit
	answerBurst int
}

// WSOption configures a WSHandler.
type WSOption func(*WSHandler)

// WithAnswerRate caps how many answers one connection may submit per second.
func WithAnswerRate(perSecond float64, burst int) WSOption {
	return func(h *WSHandler) {
		if perSecond > 0 {
			h.answerRate = rate.Limit(perSecond)
		}
		if burst > 0 {
			h.answerBurst = burst
		}
	}
}

func NewWSHandler(service *app.BattleService, log *zap.Logger, opts ...WSOption) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		answerRate:  defaultAnswerRate,
		answerBurst: defaultAnswerBurst,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string          `json:"questionId"`
	Answer     json.RawMessage `json:"answer"`
}

type joinedPayload struct {
	State     domain.ParticipantState `json:"state"`
	Spectator bool                    `json:"spectator"`
	GuildID   string                  `json:"guildId"`
	Message   string                  `json:"message"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the
// battle use cases. A student that already has a participant record resumes
// it; everyone else goes through the join gate.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	instanceID := q.Get("instanceId")
	studentID := q.Get("studentId")
	classID := q.Get("classId")
	guildID := q.Get("guildId")
	if instanceID == "" || studentID == "" || classID == "" || guildID == "" {
		http.Error(w, "missing instanceId, studentId, classId, or guildId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	joined, err := h.admit(ctx, instanceID, studentID, classID, guildID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	updates, cancel, err := h.service.Subscribe(ctx, instanceID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.String("student_id", studentID), zap.Error(err))
				return
			}
		}
	}()

	// The joined message must precede the first snapshot.
	send <- outboundMessage[any]{Type: "joined", Payload: joined}

	go func() {
		defer close(updatesDone)
		lastQuestion := -1
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				msgs := []outboundMessage[any]{{Type: "snapshot", Payload: snap}}
				if snap.Status == domain.StatusQuestionActive && snap.CurrentQuestionIndex != lastQuestion {
					if question, err := h.service.ActiveQuestion(ctx, instanceID); err == nil {
						lastQuestion = snap.CurrentQuestionIndex
						msgs = append(msgs, outboundMessage[any]{Type: "question", Payload: question.Public()})
					}
				}
				for _, msg := range msgs {
					select {
					case send <- msg:
					case <-closeSignals:
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	limiter := rate.NewLimiter(h.answerRate, h.answerBurst)
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			if !limiter.Allow() {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "rate_limited", Message: "Slow down! Too many answers at once."}}
				continue
			}
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuestionID == "" {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "invalid_answer_shape", Message: "invalid answer payload"}}
				continue
			}
			outcome, err := h.service.SubmitAnswer(ctx, instanceID, payload.QuestionID, studentID, payload.Answer)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			send <- outboundMessage[any]{Type: "answerResult", Payload: outcome}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "unsupported", Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) admit(ctx context.Context, instanceID, studentID, classID, guildID string) (joinedPayload, error) {
	existing, err := h.service.Participant(ctx, instanceID, studentID)
	switch {
	case err == nil && existing.ClassID == classID:
		inst, err := h.service.Instance(ctx, instanceID)
		if err != nil {
			return joinedPayload{}, err
		}
		if inst.Status.Terminal() {
			return joinedPayload{}, fmt.Errorf("%w: battle is %s", domain.ErrBattleClosed, inst.Status)
		}
		return joinedFrom(existing.State, existing.GuildID), nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return joinedPayload{}, err
	}
	result, err := h.service.Join(ctx, instanceID, studentID, classID, guildID)
	if err != nil {
		return joinedPayload{}, err
	}
	return joinedFrom(result.State, result.Participant.GuildID), nil
}

func joinedFrom(state domain.ParticipantState, guildID string) joinedPayload {
	p := joinedPayload{State: state, GuildID: guildID, Message: "You joined the battle."}
	if state == domain.ParticipantSpectate {
		p.Spectator = true
		p.Message = "The battle has already started. You are watching as a spectator."
	}
	return p
}

func errorMessage(err error) outboundMessage[any] {
	code := app.ErrorCode(err)
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: code, Message: messageFor(code, err)}}
}

func messageFor(code string, err error) string {
	switch code {
	case "late_join_rejected":
		return "The battle has already started and is not accepting late joins."
	case "battle_closed":
		return "This battle has ended."
	case "not_enrolled":
		return "You are not enrolled in this class."
	case "spectating":
		return "Spectators cannot answer questions."
	case "internal":
		return "Something went wrong. Please try again."
	default:
		return err.Error()
	}
}
