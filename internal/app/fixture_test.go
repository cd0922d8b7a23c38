package app_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"classquest-battle/internal/app"
	"classquest-battle/internal/domain"
	"classquest-battle/internal/infra/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	battles      *app.BattleService
	bank         *app.QuestionBank
	instances    app.InstanceStore
	participants app.ParticipantStore
	roster       *memory.StaticRoster
	clock        *fakeClock
	tplID        string
}

type fixtureOptions struct {
	instances    app.InstanceStore
	participants app.ParticipantStore
	aggregation  domain.DamageAggregation
	timeLimit    int
	opts         []app.Option
}

func newFixture(t *testing.T, fo fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()
	if fo.instances == nil {
		fo.instances = memory.NewInstanceStore()
	}
	if fo.participants == nil {
		fo.participants = memory.NewParticipantStore()
	}
	clock := newFakeClock()
	roster := memory.NewStaticRoster(map[string][]string{
		"class-1": {"s1", "s2", "s3", "s4", "s5"},
		"class-2": {"x1"},
	})
	bank := app.NewQuestionBank(memory.NewQuestionStore())
	opts := append([]app.Option{app.WithClock(clock.Now), app.WithGuildMaxHP(30)}, fo.opts...)
	battles := app.NewBattleService(bank, app.NewParticipantRegistry(fo.participants), fo.instances, roster, opts...)

	tpl, err := bank.CreateTemplate(ctx, domain.BossTemplate{
		OwnerTeacherID:    "teacher-1",
		Title:             "Fraction Dragon",
		MaxHP:             100,
		BaseXPReward:      10,
		BaseGoldReward:    4,
		DamageAggregation: fo.aggregation,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	var limit *int
	if fo.timeLimit > 0 {
		limit = &fo.timeLimit
	}
	questions := []domain.Question{
		{
			ID:                       "q1",
			OrderIndex:               0,
			Text:                     "1/2 + 1/4?",
			Type:                     domain.QuestionMCQSingle,
			Options:                  []domain.Option{{ID: "a", Text: "2/6"}, {ID: "b", Text: "3/4"}},
			CorrectAnswer:            domain.ChoiceAnswer{ChoiceID: "b"},
			DamageToBossOnCorrect:    25,
			DamageToGuildOnIncorrect: 10,
			AutoGradable:             true,
			TimeLimitSeconds:         limit,
			Reward:                   domain.RewardConfig{BaseXP: 10, MinXP: 2, XPDecayPerWrong: 3, BaseGold: 6, MinGold: 1, GoldDecayPerWrong: 2},
		},
		{
			ID:                       "q2",
			OrderIndex:               1,
			Text:                     "Is 2/4 = 1/2?",
			Type:                     domain.QuestionTrueFalse,
			CorrectAnswer:            domain.BoolAnswer{Value: true},
			DamageToBossOnCorrect:    25,
			DamageToGuildOnIncorrect: 10,
			AutoGradable:             true,
			TimeLimitSeconds:         limit,
		},
		{
			ID:                    "q3",
			OrderIndex:            2,
			Text:                  "Explain why 3/6 = 1/2.",
			Type:                  domain.QuestionShortAnswer,
			DamageToBossOnCorrect: 25,
		},
	}
	for _, q := range questions {
		q.TemplateID = tpl.ID
		if _, err := bank.CreateQuestion(ctx, q); err != nil {
			t.Fatalf("create question %s: %v", q.ID, err)
		}
	}

	return &fixture{
		battles:      battles,
		bank:         bank,
		instances:    fo.instances,
		participants: fo.participants,
		roster:       roster,
		clock:        clock,
		tplID:        tpl.ID,
	}
}

// battle creates an instance and drives it to status.
func (f *fixture) battle(t *testing.T, policy domain.LateJoinPolicy, status domain.BattleStatus) string {
	t.Helper()
	ctx := context.Background()
	inst, err := f.battles.CreateInstance(ctx, app.InstanceSpec{TemplateID: f.tplID, ClassID: "class-1", LateJoinPolicy: policy})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	id := inst.ID
	steps := map[domain.BattleStatus][]func(context.Context, string) (domain.BattleInstance, error){
		domain.StatusDraft:          nil,
		domain.StatusLobby:          {f.battles.Launch},
		domain.StatusCountdown:      {f.battles.Launch, f.battles.StartCountdown},
		domain.StatusQuestionActive: {f.battles.Launch, f.battles.StartCountdown, f.battles.StartQuestion},
		domain.StatusResolving:      {f.battles.Launch, f.battles.StartCountdown, f.battles.StartQuestion, f.battles.CloseQuestion},
		domain.StatusIntermission:   {f.battles.Launch, f.battles.StartCountdown, f.battles.StartQuestion, f.battles.CloseQuestion, f.battles.Advance},
		domain.StatusAborted:        {f.battles.Launch, f.battles.Abort},
	}
	path, ok := steps[status]
	if !ok {
		t.Fatalf("no path to %s", status)
	}
	for _, step := range path {
		if _, err := step(ctx, id); err != nil {
			t.Fatalf("drive to %s: %v", status, err)
		}
	}
	return id
}

func (f *fixture) join(t *testing.T, id, student, guild string) domain.JoinResult {
	t.Helper()
	res, err := f.battles.Join(context.Background(), id, student, "class-1", guild)
	if err != nil {
		t.Fatalf("join %s: %v", student, err)
	}
	return res
}

func (f *fixture) answer(id, question, student, payload string) (domain.AnswerOutcome, error) {
	return f.battles.SubmitAnswer(context.Background(), id, question, student, json.RawMessage(payload))
}

func (f *fixture) instance(t *testing.T, id string) domain.BattleInstance {
	t.Helper()
	inst, err := f.battles.Instance(context.Background(), id)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	return inst
}
