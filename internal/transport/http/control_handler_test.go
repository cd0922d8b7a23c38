package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestControlTemplateAuthoring(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/templates", "application/json", strings.NewReader(
		`{"ownerTeacherId":"teacher-2","title":"Verb Golem","maxHp":60,"damageAggregation":"BEST_OF"}`))
	if err != nil {
		t.Fatalf("post template: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var tpl struct {
		ID                string `json:"id"`
		DamageAggregation string `json:"damageAggregation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tpl); err != nil {
		t.Fatalf("decode template: %v", err)
	}
	if tpl.ID == "" || tpl.DamageAggregation != "BEST_OF" {
		t.Fatalf("unexpected template %+v", tpl)
	}

	body := `{"orderIndex":3,"questionText":"Is 'ran' past tense?","questionType":"TRUE_FALSE",
		"correctAnswer":{"value":true},"autoGradable":true,"damageToBossOnCorrect":20}`
	qResp, err := http.Post(env.server.URL+"/templates/"+tpl.ID+"/questions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post question: %v", err)
	}
	defer qResp.Body.Close()
	if qResp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", qResp.StatusCode)
	}

	list, err := http.Get(env.server.URL + "/templates/" + tpl.ID + "/questions")
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	defer list.Body.Close()
	var questions []map[string]any
	if err := json.NewDecoder(list.Body).Decode(&questions); err != nil {
		t.Fatalf("decode questions: %v", err)
	}
	if len(questions) != 1 || questions[0]["orderIndex"] != float64(3) {
		t.Fatalf("unexpected questions %+v", questions)
	}
	if _, leaked := questions[0]["correctAnswer"]; leaked {
		t.Fatalf("answer key leaked: %+v", questions[0])
	}
}

func TestControlRejectsInvalidQuestion(t *testing.T) {
	env := newTestEnv(t)
	body := `{"orderIndex":0,"questionText":"?","questionType":"NUMERIC","autoGradable":true}`
	resp, err := http.Post(env.server.URL+"/templates/"+env.tplID+"/questions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post question: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Code != "invalid_question" {
		t.Fatalf("expected invalid_question, got %+v", payload)
	}
}

func TestControlTransitionErrors(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/battles/missing/launch")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown battle, got %d", resp.StatusCode)
	}

	id := env.createBattle(t, "")
	resp = env.post(t, "/battles/"+id+"/advance")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 advancing from LOBBY, got %d", resp.StatusCode)
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Code != "invalid_battle_phase" || !strings.Contains(payload.Message, "LOBBY") {
		t.Fatalf("expected phase error naming LOBBY, got %+v", payload)
	}

	if resp := env.post(t, "/battles/"+id+"/abort"); resp.StatusCode != http.StatusOK {
		t.Fatalf("abort: %d", resp.StatusCode)
	}
	resp = env.post(t, "/battles/"+id+"/launch")
	var closed errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&closed)
	if resp.StatusCode != http.StatusConflict || closed.Code != "battle_closed" {
		t.Fatalf("expected battle_closed after abort, got %d %+v", resp.StatusCode, closed)
	}

	if resp := env.post(t, "/battles/"+id+"/dance"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", resp.StatusCode)
	}
}

func TestControlCreateAndGetBattle(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Post(env.server.URL+"/battles", "application/json", strings.NewReader(
		`{"bossTemplateId":"`+env.tplID+`","classId":"class-1","lateJoinPolicy":"ALLOW_SPECTATE"}`))
	if err != nil {
		t.Fatalf("post battle: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var snap struct {
		ID     string `json:"bossInstanceId"`
		Status string `json:"status"`
		BossHP int    `json:"bossHp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != "DRAFT" || snap.BossHP != 100 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	get, err := http.Get(env.server.URL + "/battles/" + snap.ID)
	if err != nil {
		t.Fatalf("get battle: %v", err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", get.StatusCode)
	}
}
