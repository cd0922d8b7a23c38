package app

import (
	"fmt"
	"time"

	"classquest-battle/internal/domain"
)

var transitions = map[domain.BattleStatus][]domain.BattleStatus{
	domain.StatusDraft:          {domain.StatusLobby, domain.StatusAborted},
	domain.StatusLobby:          {domain.StatusCountdown, domain.StatusAborted},
	domain.StatusCountdown:      {domain.StatusQuestionActive, domain.StatusAborted},
	domain.StatusQuestionActive: {domain.StatusResolving, domain.StatusAborted},
	domain.StatusResolving:      {domain.StatusIntermission, domain.StatusCompleted, domain.StatusAborted},
	domain.StatusIntermission:   {domain.StatusQuestionActive, domain.StatusAborted},
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to domain.BattleStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns BattleClosed for terminal instances and a
// PhaseError for any other illegal move.
func checkTransition(inst domain.BattleInstance, to domain.BattleStatus, action string) error {
	if inst.Status.Terminal() {
		return fmt.Errorf("%w: instance %s is %s", domain.ErrBattleClosed, inst.ID, inst.Status)
	}
	if !CanTransition(inst.Status, to) {
		return &domain.PhaseError{Status: inst.Status, Action: action}
	}
	return nil
}

// JoinDecision is the gate's verdict for a join request.
type JoinDecision int

const (
	JoinAsPlayer JoinDecision = iota
	JoinAsSpectator
)

// DecideJoin applies the late-join policy to the instance's current status.
func DecideJoin(status domain.BattleStatus, policy domain.LateJoinPolicy) (JoinDecision, error) {
	switch {
	case status == domain.StatusLobby:
		return JoinAsPlayer, nil
	case status.InProgress():
		if policy == domain.LateJoinAllowSpectate {
			return JoinAsSpectator, nil
		}
		return 0, fmt.Errorf("%w: battle is %s", domain.ErrLateJoinRejected, status)
	case status.Terminal():
		return 0, fmt.Errorf("%w: battle is %s", domain.ErrBattleClosed, status)
	default:
		return 0, &domain.PhaseError{Status: status, Action: "join"}
	}
}

// enterQuestion moves inst into QUESTION_ACTIVE for the question at index.
func enterQuestion(inst *domain.BattleInstance, q domain.Question, index int, now time.Time) {
	inst.Status = domain.StatusQuestionActive
	inst.CurrentQuestionIndex = index
	inst.Round = domain.NewRound(q.ID)
	inst.QuestionDeadline = nil
	if limit := q.TimeLimit(); limit > 0 {
		deadline := now.Add(limit)
		inst.QuestionDeadline = &deadline
	}
}

// resolveNext decides where RESOLVING leads. guilds are the guilds that
// still have players.
func resolveNext(inst domain.BattleInstance, guilds []string, questionCount int) (domain.BattleStatus, domain.Outcome) {
	switch {
	case inst.CurrentHP <= 0:
		return domain.StatusCompleted, domain.OutcomeVictory
	case inst.AllGuildsDown(guilds):
		return domain.StatusCompleted, domain.OutcomeDefeat
	case inst.CurrentQuestionIndex+1 < questionCount:
		return domain.StatusIntermission, ""
	default:
		return domain.StatusCompleted, domain.OutcomeDefeat
	}
}

// questionExpired reports whether the active question's time limit has passed.
func questionExpired(inst domain.BattleInstance, now time.Time) bool {
	return inst.QuestionDeadline != nil && !now.Before(*inst.QuestionDeadline)
}
