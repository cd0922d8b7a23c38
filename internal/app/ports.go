package app

import (
	"context"
	"time"

	"classquest-battle/internal/domain"
)

// QuestionStore persists boss templates and their questions.
// ListQuestions returns questions in insertion order.
type QuestionStore interface {
	CreateTemplate(ctx context.Context, tpl domain.BossTemplate) error
	GetTemplate(ctx context.Context, templateID string) (domain.BossTemplate, error)
	CreateQuestion(ctx context.Context, q domain.Question) error
	DeleteQuestion(ctx context.Context, templateID, questionID string) error
	ListQuestions(ctx context.Context, templateID string) ([]domain.Question, error)
}

// InstanceStore persists battle instances behind an optimistic version guard.
type InstanceStore interface {
	CreateInstance(ctx context.Context, inst domain.BattleInstance) error
	GetInstance(ctx context.Context, instanceID string) (domain.BattleInstance, error)
	// SaveInstance stores inst only if the stored version still equals
	// expected; otherwise it returns domain.ErrVersionConflict.
	SaveInstance(ctx context.Context, inst domain.BattleInstance, expected int64) error
	// ListInstanceIDs returns the ids of instances currently in status.
	ListInstanceIDs(ctx context.Context, status domain.BattleStatus) ([]string, error)
}

// ParticipantStore persists participant records. Records are never deleted.
type ParticipantStore interface {
	// UpsertParticipant inserts p or refreshes the class and guild of an
	// existing record. The state of an existing record is left untouched.
	UpsertParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error)
	GetParticipant(ctx context.Context, instanceID, studentID string) (domain.Participant, error)
	UpdateParticipantState(ctx context.Context, instanceID, studentID string, state domain.ParticipantState, at time.Time) (domain.Participant, error)
	ListParticipants(ctx context.Context, instanceID string) ([]domain.Participant, error)
}

// EnrollmentChecker answers whether a student belongs to a class.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, classID, studentID string) (bool, error)
}

// Recorder receives operational counters. Implementations must be safe for
// concurrent use.
type Recorder interface {
	JoinHandled(outcome string)
	AnswerGraded(outcome string, bossDamage, guildDamage int)
	Transition(from, to domain.BattleStatus)
	Conflict(op string)
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

type nopRecorder struct{}

func (nopRecorder) JoinHandled(string)                                  {}
func (nopRecorder) AnswerGraded(string, int, int)                       {}
func (nopRecorder) Transition(domain.BattleStatus, domain.BattleStatus) {}
func (nopRecorder) Conflict(string)                                     {}
