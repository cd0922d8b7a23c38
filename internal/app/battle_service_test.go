package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"classquest-battle/internal/app"
	"classquest-battle/internal/domain"
	"classquest-battle/internal/infra/memory"
)

func TestJoinByStatus(t *testing.T) {
	cases := []struct {
		status    domain.BattleStatus
		policy    domain.LateJoinPolicy
		wantState domain.ParticipantState
		wantErr   error
	}{
		{domain.StatusLobby, domain.LateJoinReject, domain.ParticipantJoined, nil},
		{domain.StatusLobby, domain.LateJoinAllowSpectate, domain.ParticipantJoined, nil},
		{domain.StatusCountdown, domain.LateJoinAllowSpectate, domain.ParticipantSpectate, nil},
		{domain.StatusQuestionActive, domain.LateJoinAllowSpectate, domain.ParticipantSpectate, nil},
		{domain.StatusResolving, domain.LateJoinAllowSpectate, domain.ParticipantSpectate, nil},
		{domain.StatusIntermission, domain.LateJoinAllowSpectate, domain.ParticipantSpectate, nil},
		{domain.StatusCountdown, domain.LateJoinReject, "", domain.ErrLateJoinRejected},
		{domain.StatusQuestionActive, domain.LateJoinReject, "", domain.ErrLateJoinRejected},
		{domain.StatusResolving, domain.LateJoinReject, "", domain.ErrLateJoinRejected},
		{domain.StatusIntermission, domain.LateJoinReject, "", domain.ErrLateJoinRejected},
		{domain.StatusAborted, domain.LateJoinAllowSpectate, "", domain.ErrBattleClosed},
		{domain.StatusDraft, domain.LateJoinAllowSpectate, "", domain.ErrInvalidBattlePhase},
	}
	for _, tc := range cases {
		t.Run(string(tc.status)+"/"+string(tc.policy), func(t *testing.T) {
			f := newFixture(t, fixtureOptions{})
			id := f.battle(t, tc.policy, tc.status)
			ctx := context.Background()

			res, err := f.battles.Join(ctx, id, "s1", "class-1", "red")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if _, err := f.battles.Participant(ctx, id, "s1"); !errors.Is(err, domain.ErrNotFound) {
					t.Fatalf("failed join must not write a participant, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("join: %v", err)
			}
			if res.State != tc.wantState || res.Spectator != (tc.wantState == domain.ParticipantSpectate) {
				t.Fatalf("expected %s, got %+v", tc.wantState, res)
			}
			stored, err := f.battles.Participant(ctx, id, "s1")
			if err != nil || stored.State != tc.wantState {
				t.Fatalf("stored participant %+v, %v", stored, err)
			}
		})
	}
}

func TestJoinInDraftNamesStatus(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinAllowSpectate, domain.StatusDraft)
	_, err := f.battles.Join(context.Background(), id, "s1", "class-1", "red")
	var phase *domain.PhaseError
	if !errors.As(err, &phase) || phase.Status != domain.StatusDraft {
		t.Fatalf("expected PhaseError for DRAFT, got %v", err)
	}
	if !strings.Contains(err.Error(), "DRAFT") {
		t.Fatalf("error should name the status: %v", err)
	}
}

func TestJoinAfterCompletionIsClosed(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinAllowSpectate, domain.StatusLobby)
	for _, s := range []string{"s1", "s2", "s3", "s4"} {
		f.join(t, id, s, "red")
	}
	ctx := context.Background()
	f.battles.StartCountdown(ctx, id)
	f.battles.StartQuestion(ctx, id)
	for _, s := range []string{"s1", "s2", "s3", "s4"} {
		if _, err := f.answer(id, "q1", s, `{"choiceId":"b"}`); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	if _, err := f.battles.Advance(ctx, id); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := f.battles.Join(ctx, id, "s5", "class-1", "red"); !errors.Is(err, domain.ErrBattleClosed) {
		t.Fatalf("expected ErrBattleClosed, got %v", err)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinReject, domain.StatusLobby)
	first := f.join(t, id, "s1", "red")
	f.clock.Advance(time.Minute)
	second := f.join(t, id, "s1", "blue")

	members, err := f.battles.MembersOf(context.Background(), id)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected one record, got %d", len(members))
	}
	if second.State != domain.ParticipantJoined || second.Participant.GuildID != "blue" {
		t.Fatalf("unexpected rejoin result %+v", second)
	}
	if !second.Participant.JoinedAt.Equal(first.Participant.JoinedAt) {
		t.Fatalf("rejoin must keep the original join time")
	}
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinReject, domain.StatusLobby)
	ctx := context.Background()

	for _, tc := range []struct {
		name                     string
		instance, student, guild string
	}{
		{"blank student", id, " ", "red"},
		{"inner space", id, "s 1", "red"},
		{"control char", id, "s\x001", "red"},
		{"empty guild", id, "s1", ""},
		{"too long", id, strings.Repeat("s", 129), "red"},
	} {
		if _, err := f.battles.Join(ctx, tc.instance, tc.student, "class-1", tc.guild); !errors.Is(err, domain.ErrInvalidJoinInput) {
			t.Fatalf("%s: expected ErrInvalidJoinInput, got %v", tc.name, err)
		}
	}

	if _, err := f.battles.Join(ctx, "missing", "s1", "class-1", "red"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown instance, got %v", err)
	}
	if _, err := f.battles.Join(ctx, id, "x1", "class-2", "red"); !errors.Is(err, domain.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled for foreign class, got %v", err)
	}
	if _, err := f.battles.Join(ctx, id, "stranger", "class-1", "red"); !errors.Is(err, domain.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled for unenrolled student, got %v", err)
	}
}

func TestSpectatorIsNotPromoted(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinAllowSpectate, domain.StatusCountdown)
	if res := f.join(t, id, "s1", "red"); !res.Spectator {
		t.Fatalf("expected spectator, got %+v", res)
	}
	if res := f.join(t, id, "s1", "red"); res.State != domain.ParticipantSpectate {
		t.Fatalf("repeat join must stay SPECTATE, got %+v", res)
	}
}

// failingDemote accepts upserts but refuses state changes.
type failingDemote struct {
	*memory.ParticipantStore
}

func (failingDemote) UpdateParticipantState(context.Context, string, string, domain.ParticipantState, time.Time) (domain.Participant, error) {
	return domain.Participant{}, errors.New("disk on fire")
}

func TestDemoteFailureLeavesParticipantJoined(t *testing.T) {
	store := failingDemote{memory.NewParticipantStore()}
	f := newFixture(t, fixtureOptions{participants: store})
	id := f.battle(t, domain.LateJoinAllowSpectate, domain.StatusQuestionActive)
	ctx := context.Background()

	_, err := f.battles.Join(ctx, id, "s1", "class-1", "red")
	var internal *domain.InternalError
	if !errors.As(err, &internal) {
		t.Fatalf("expected InternalError, got %v", err)
	}
	p, err := f.battles.Participant(ctx, id, "s1")
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	if p.State != domain.ParticipantJoined {
		t.Fatalf("expected stranded JOINED record, got %s", p.State)
	}
}

func TestSumScenarioDefeatsBoss(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinReject, domain.StatusLobby)
	ctx := context.Background()
	for i, s := range []string{"s1", "s2", "s3", "s4", "s5"} {
		f.join(t, id, s, []string{"red", "blue"}[i%2])
	}
	f.battles.StartCountdown(ctx, id)
	f.battles.StartQuestion(ctx, id)

	var last domain.AnswerOutcome
	for _, s := range []string{"s1", "s2", "s3", "s4"} {
		out, err := f.answer(id, "q1", s, `{"choiceId":"b"}`)
		if err != nil {
			t.Fatalf("answer %s: %v", s, err)
		}
		if !out.Correct || out.BossDamage != 25 || out.RewardXP != 10 || out.RewardGold != 6 {
			t.Fatalf("unexpected outcome %+v", out)
		}
		last = out
	}
	if last.BossHP != 0 || last.Status != domain.StatusResolving {
		t.Fatalf("expected boss at 0 and RESOLVING, got %+v", last)
	}
	if _, err := f.answer(id, "q1", "s5", `{"choiceId":"b"}`); !errors.Is(err, domain.ErrInvalidBattlePhase) {
		t.Fatalf("answers after resolution must fail, got %v", err)
	}

	done, err := f.battles.Advance(ctx, id)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if done.Status != domain.StatusCompleted || done.Outcome != domain.OutcomeVictory {
		t.Fatalf("expected COMPLETED/VICTORY, got %s/%s", done.Status, done.Outcome)
	}
	snap, _ := f.battles.Snapshot(ctx, id)
	if len(snap.Leaderboard) != 4 || snap.Leaderboard[0].StudentID != "s1" {
		t.Fatalf("unexpected leaderboard %+v", snap.Leaderboard)
	}
}

func TestWrongAnswersDecayRewardAndHurtGuild(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinReject, domain.StatusLobby)
	ctx := context.Background()
	f.join(t, id, "s1", "red")
	f.battles.StartCountdown(ctx, id)
	f.battles.StartQuestion(ctx, id)

	for i := 0; i < 2; i++ {
		out, err := f.answer(id, "q1", "s1", `{"choiceId":"a"}`)
		if err != nil {
			t.Fatalf("wrong answer: %v", err)
		}
		if out.Correct || out.GuildDamage != 10 {
			t.Fatalf("unexpected wrong outcome %+v", out)
		}
	}
	out, err := f.answer(id, "q1", "s1", `{"choiceId":"b"}`)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if out.RewardXP != 4 || out.RewardGold != 2 {
		t.Fatalf("expected decayed reward 4xp/2g, got %+v", out)
	}
	if _, err := f.answer(id, "q1", "s1", `{"choiceId":"b"}`); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}
	inst := f.instance(t, id)
	if inst.GuildHP["red"] != 10 || inst.Scores["s1"].Wrong != 2 || inst.Scores["s1"].Correct != 1 {
		t.Fatalf("unexpected totals guild=%v score=%+v", inst.GuildHP, inst.Scores["s1"])
	}
}

func TestGuildWipeoutEndsInDefeat(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinReject, domain.StatusLobby)
	ctx := context.Background()
	f.join(t, id, "s1", "red")
	f.battles.StartCountdown(ctx, id)
	f.battles.StartQuestion(ctx, id)

	var out domain.AnswerOutcome
	for i := 0; i < 3; i++ {
		var err error
		out, err = f.answer(id, "q1", "s1", `{"choiceId":"a"}`)
		if err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	if out.Status != domain.StatusResolving {
		t.Fatalf("guild at 0 HP should resolve the question, got %s", out.Status)
	}
	done, err := f.battles.Advance(ctx, id)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if done.Status != domain.StatusCompleted || done.Outcome != domain.OutcomeDefeat {
		t.Fatalf("expected COMPLETED/DEFEAT, got %s/%s", done.Status, done.Outcome)
	}
}

func TestGuildSwitchInLobbyLeavesNoStandingGuild(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinReject, domain.StatusLobby)
	ctx := context.Background()
	f.join(t, id, "s1", "red")
	f.join(t, id, "s1", "blue")
	f.battles.StartCountdown(ctx, id)
	f.battles.StartQuestion(ctx, id)

	var out domain.AnswerOutcome
	for i := 0; i < 3; i++ {
		var err error
		out, err = f.answer(id, "q1", "s1", `{"choiceId":"a"}`)
		if err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	if out.Status != domain.StatusResolving {
		t.Fatalf("the only guild with players is down, got %s", out.Status)
	}
	done, err := f.battles.Advance(ctx, id)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if done.Outcome != domain.OutcomeDefeat {
		t.Fatalf("expected DEFEAT, got %s/%s", done.Status, done.Outcome)
	}
}

func TestSubmitAnswerErrors(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinAllowSpectate, domain.StatusLobby)
	ctx := context.Background()
	f.join(t, id, "s1", "red")

	if _, err := f.answer(id, "q1", "s1", `{"choiceId":"b"}`); !errors.Is(err, domain.ErrInvalidBattlePhase) {
		t.Fatalf("expected phase error in LOBBY, got %v", err)
	}
	f.battles.StartCountdown(ctx, id)
	f.battles.StartQuestion(ctx, id)
	f.join(t, id, "s2", "blue")

	cases := []struct {
		name     string
		instance string
		question string
		student  string
		payload  string
		want     error
	}{
		{"unknown instance", "missing", "q1", "s1", `{"choiceId":"b"}`, domain.ErrNotFound},
		{"unknown question", id, "q9", "s1", `{"choiceId":"b"}`, domain.ErrNotFound},
		{"unknown student", id, "q1", "s9", `{"choiceId":"b"}`, domain.ErrNotFound},
		{"wrong shape", id, "q1", "s1", `{"value":true}`, domain.ErrInvalidAnswerShape},
		{"unknown option", id, "q1", "s1", `{"choiceId":"z"}`, domain.ErrInvalidAnswerShape},
		{"inactive question", id, "q2", "s1", `{"value":true}`, domain.ErrInvalidBattlePhase},
		{"spectator", id, "q1", "s2", `{"choiceId":"b"}`, domain.ErrSpectating},
	}
	for _, tc := range cases {
		if _, err := f.answer(tc.instance, tc.question, tc.student, tc.payload); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	f.battles.Abort(ctx, id)
	if _, err := f.answer(id, "q1", "s1", `{"choiceId":"b"}`); !errors.Is(err, domain.ErrBattleClosed) {
		t.Fatalf("expected ErrBattleClosed after abort, got %v", err)
	}
}

func TestPendingAnswersDoNoDamage(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinReject, domain.StatusLobby)
	ctx := context.Background()
	f.join(t, id, "s1", "red")
	f.battles.StartCountdown(ctx, id)
	for _, step := range []func(context.Context, string) (domain.BattleInstance, error){
		f.battles.StartQuestion, f.battles.CloseQuestion, f.battles.Advance,
		f.battles.StartQuestion, f.battles.CloseQuestion, f.battles.Advance,
		f.battles.StartQuestion,
	} {
		if _, err := step(ctx, id); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	out, err := f.answer(id, "q3", "s1", `{"text":"because 3 is half of 6"}`)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !out.Pending || out.BossDamage != 0 || out.RewardXP != 0 {
		t.Fatalf("expected pending with no effects, got %+v", out)
	}
	if _, err := f.battles.CloseQuestion(ctx, id); err != nil {
		t.Fatalf("close: %v", err)
	}
	done, err := f.battles.Advance(ctx, id)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if done.Status != domain.StatusCompleted || done.Outcome != domain.OutcomeDefeat {
		t.Fatalf("out of questions with boss alive must be DEFEAT, got %s/%s", done.Status, done.Outcome)
	}
}

func TestTransitionsAreGuarded(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	id := f.battle(t, domain.LateJoinReject, domain.StatusDraft)

	if _, err := f.battles.StartQuestion(ctx, id); !errors.Is(err, domain.ErrInvalidBattlePhase) {
		t.Fatalf("expected phase error, got %v", err)
	}
	if _, err := f.battles.Abort(ctx, id); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, err := f.battles.Abort(ctx, id); !errors.Is(err, domain.ErrBattleClosed) {
		t.Fatalf("expected ErrBattleClosed on second abort, got %v", err)
	}
	if _, err := f.battles.Launch(ctx, id); !errors.Is(err, domain.ErrBattleClosed) {
		t.Fatalf("expected ErrBattleClosed, got %v", err)
	}
}

func TestCountdownNeedsQuestions(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	tpl, err := f.bank.CreateTemplate(ctx, domain.BossTemplate{OwnerTeacherID: "t", Title: "Empty", MaxHP: 10})
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	inst, err := f.battles.CreateInstance(ctx, app.InstanceSpec{TemplateID: tpl.ID, ClassID: "class-1"})
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if inst.LateJoinPolicy != domain.LateJoinReject || inst.CurrentHP != 10 || inst.Status != domain.StatusDraft {
		t.Fatalf("unexpected new instance %+v", inst)
	}
	f.battles.Launch(ctx, inst.ID)
	if _, err := f.battles.StartCountdown(ctx, inst.ID); !errors.Is(err, domain.ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
}

func TestQuestionTimerExpiresQuestions(t *testing.T) {
	f := newFixture(t, fixtureOptions{timeLimit: 20})
	id := f.battle(t, domain.LateJoinReject, domain.StatusLobby)
	ctx := context.Background()
	f.join(t, id, "s1", "red")
	f.battles.StartCountdown(ctx, id)
	f.battles.StartQuestion(ctx, id)

	timer := app.NewQuestionTimer(f.battles, f.instances, time.Second, nil)
	if n := timer.Tick(ctx); n != 0 {
		t.Fatalf("nothing should expire yet, got %d", n)
	}
	f.clock.Advance(21 * time.Second)
	if _, err := f.answer(id, "q1", "s1", `{"choiceId":"b"}`); !errors.Is(err, domain.ErrInvalidBattlePhase) {
		t.Fatalf("late answer must be rejected, got %v", err)
	}
	if n := timer.Tick(ctx); n != 1 {
		t.Fatalf("expected one expiry, got %d", n)
	}
	if inst := f.instance(t, id); inst.Status != domain.StatusResolving || inst.QuestionDeadline != nil {
		t.Fatalf("expected RESOLVING without deadline, got %s", inst.Status)
	}
	if n := timer.Tick(ctx); n != 0 {
		t.Fatalf("expiry must happen once, got %d", n)
	}
}

func TestConcurrentAnswersCompleteOnce(t *testing.T) {
	f := newFixture(t, fixtureOptions{opts: []app.Option{app.WithMaxAttempts(64)}})
	id := f.battle(t, domain.LateJoinReject, domain.StatusLobby)
	ctx := context.Background()
	students := []string{"s1", "s2", "s3", "s4", "s5"}
	for _, s := range students {
		f.join(t, id, s, "red")
	}
	f.battles.StartCountdown(ctx, id)
	f.battles.StartQuestion(ctx, id)

	var wg sync.WaitGroup
	var mu sync.Mutex
	hits, phaseErrs := 0, 0
	for _, s := range students {
		wg.Add(1)
		go func(student string) {
			defer wg.Done()
			out, err := f.answer(id, "q1", student, `{"choiceId":"b"}`)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && out.BossDamage > 0:
				hits++
			case errors.Is(err, domain.ErrInvalidBattlePhase):
				phaseErrs++
			case err != nil:
				t.Errorf("unexpected error: %v", err)
			}
		}(s)
	}
	wg.Wait()

	inst := f.instance(t, id)
	if hits != 4 || phaseErrs != 1 {
		t.Fatalf("expected 4 hits and 1 late answer, got %d/%d", hits, phaseErrs)
	}
	if inst.CurrentHP != 0 || inst.Status != domain.StatusResolving {
		t.Fatalf("expected HP 0 and RESOLVING, got %d %s", inst.CurrentHP, inst.Status)
	}
}

// flakyInstances loses the version race a fixed number of times.
type flakyInstances struct {
	*memory.InstanceStore
	mu        sync.Mutex
	conflicts int
	always    bool
}

func (s *flakyInstances) SaveInstance(ctx context.Context, inst domain.BattleInstance, expected int64) error {
	s.mu.Lock()
	if s.always || s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return domain.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.InstanceStore.SaveInstance(ctx, inst, expected)
}

func TestMutationRetriesOnConflict(t *testing.T) {
	store := &flakyInstances{InstanceStore: memory.NewInstanceStore()}
	f := newFixture(t, fixtureOptions{instances: store})
	id := f.battle(t, domain.LateJoinReject, domain.StatusDraft)

	store.mu.Lock()
	store.conflicts = 3
	store.mu.Unlock()
	inst, err := f.battles.Launch(context.Background(), id)
	if err != nil {
		t.Fatalf("launch should survive conflicts: %v", err)
	}
	if inst.Status != domain.StatusLobby || inst.Version != 2 {
		t.Fatalf("unexpected instance %s v%d", inst.Status, inst.Version)
	}
}

// racingInstances closes the lobby underneath the next save once armed.
type racingInstances struct {
	*memory.InstanceStore
	mu    sync.Mutex
	armed bool
}

func (s *racingInstances) arm() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

func (s *racingInstances) SaveInstance(ctx context.Context, inst domain.BattleInstance, expected int64) error {
	s.mu.Lock()
	fire := s.armed
	s.armed = false
	s.mu.Unlock()
	if fire {
		current, err := s.InstanceStore.GetInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		closed := current.Clone()
		closed.Status = domain.StatusCountdown
		closed.Version = current.Version + 1
		if err := s.InstanceStore.SaveInstance(ctx, closed, current.Version); err != nil {
			return err
		}
	}
	return s.InstanceStore.SaveInstance(ctx, inst, expected)
}

func TestJoinRacingLobbyCloseIsRedecided(t *testing.T) {
	for _, tc := range []struct {
		policy    domain.LateJoinPolicy
		wantErr   error
		wantState domain.ParticipantState
	}{
		{domain.LateJoinReject, domain.ErrLateJoinRejected, ""},
		{domain.LateJoinAllowSpectate, nil, domain.ParticipantSpectate},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			store := &racingInstances{InstanceStore: memory.NewInstanceStore()}
			f := newFixture(t, fixtureOptions{instances: store})
			id := f.battle(t, tc.policy, domain.StatusLobby)
			ctx := context.Background()

			store.arm()
			res, err := f.battles.Join(ctx, id, "s1", "class-1", "red")
			if inst := f.instance(t, id); inst.Status != domain.StatusCountdown {
				t.Fatalf("lobby should have closed underneath the join, got %s", inst.Status)
			}
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if _, err := f.battles.Participant(ctx, id, "s1"); !errors.Is(err, domain.ErrNotFound) {
					t.Fatalf("rejected join must not write a participant, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("join: %v", err)
			}
			if res.State != tc.wantState {
				t.Fatalf("expected %s after re-deciding, got %s", tc.wantState, res.State)
			}
		})
	}
}

func TestMutationGivesUpAsInternal(t *testing.T) {
	store := &flakyInstances{InstanceStore: memory.NewInstanceStore()}
	f := newFixture(t, fixtureOptions{instances: store, opts: []app.Option{app.WithMaxAttempts(3)}})
	id := f.battle(t, domain.LateJoinReject, domain.StatusDraft)

	store.mu.Lock()
	store.always = true
	store.mu.Unlock()
	_, err := f.battles.Launch(context.Background(), id)
	var internal *domain.InternalError
	if !errors.As(err, &internal) {
		t.Fatalf("expected InternalError, got %v", err)
	}
	if app.ErrorCode(err) != "internal" {
		t.Fatalf("exhausted retries must map to internal, got %s", app.ErrorCode(err))
	}
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := f.battle(t, domain.LateJoinReject, domain.StatusLobby)
	ctx := context.Background()

	ch, cancel, err := f.battles.Subscribe(ctx, id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if snap := <-ch; snap.Status != domain.StatusLobby {
		t.Fatalf("expected initial LOBBY snapshot, got %s", snap.Status)
	}
	f.battles.StartCountdown(ctx, id)
	select {
	case snap := <-ch:
		if snap.Status != domain.StatusCountdown {
			t.Fatalf("expected COUNTDOWN, got %s", snap.Status)
		}
	case <-time.After(time.Second):
		t.Fatalf("no snapshot after transition")
	}
}

func TestErrorCodes(t *testing.T) {
	cases := map[error]string{
		domain.ErrLateJoinRejected:                              "late_join_rejected",
		domain.ErrBattleClosed:                                  "battle_closed",
		&domain.PhaseError{Status: domain.StatusDraft}:          "invalid_battle_phase",
		domain.ErrInstanceNotFound:                              "not_found",
		domain.ErrInvalidAnswerShape:                            "invalid_answer_shape",
		domain.ErrSpectating:                                    "spectating",
		&domain.InternalError{Op: "x", Err: errors.New("boom")}: "internal",
	}
	for err, want := range cases {
		if got := app.ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %s, want %s", err, got, want)
		}
	}
}
