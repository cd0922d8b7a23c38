package domain

// BattleStatus is the phase of a boss battle instance.
type BattleStatus string

const (
	StatusDraft          BattleStatus = "DRAFT"
	StatusLobby          BattleStatus = "LOBBY"
	StatusCountdown      BattleStatus = "COUNTDOWN"
	StatusQuestionActive BattleStatus = "QUESTION_ACTIVE"
	StatusResolving      BattleStatus = "RESOLVING"
	StatusIntermission   BattleStatus = "INTERMISSION"
	StatusCompleted      BattleStatus = "COMPLETED"
	StatusAborted        BattleStatus = "ABORTED"
)

// Terminal reports whether no transition may leave s.
func (s BattleStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// InProgress reports whether the lobby has closed but the battle is still running.
func (s BattleStatus) InProgress() bool {
	switch s {
	case StatusCountdown, StatusQuestionActive, StatusResolving, StatusIntermission:
		return true
	}
	return false
}

// AllStatuses lists every known status in lifecycle order.
func AllStatuses() []BattleStatus {
	return []BattleStatus{
		StatusDraft,
		StatusLobby,
		StatusCountdown,
		StatusQuestionActive,
		StatusResolving,
		StatusIntermission,
		StatusCompleted,
		StatusAborted,
	}
}
