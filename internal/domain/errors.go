package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidJoinInput is returned when a join carries an empty or malformed id.
	ErrInvalidJoinInput = errors.New("invalid join input")
	// ErrInvalidBattlePhase is returned when an action is not legal for the current status.
	ErrInvalidBattlePhase = errors.New("invalid battle phase")
	// ErrLateJoinRejected is returned when the lobby is over and the policy forbids spectators.
	ErrLateJoinRejected = errors.New("late join rejected")
	// ErrBattleClosed is returned for any action against a completed or aborted battle.
	ErrBattleClosed = errors.New("battle closed")
	// ErrNotFound is the root of every lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuestion is returned when a question fails validation.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrInvalidAnswerShape is returned when an answer payload does not fit its question type.
	ErrInvalidAnswerShape = errors.New("invalid answer shape")
	// ErrOutOfRange is returned for order indexes outside [0, 999999].
	ErrOutOfRange = errors.New("order index out of range")
	// ErrNotEnrolled is returned when the student is not enrolled in the battle's class.
	ErrNotEnrolled = errors.New("student not enrolled in class")
	// ErrSpectating is returned when a spectator tries to answer.
	ErrSpectating = errors.New("spectators cannot answer")
	// ErrAlreadyAnswered is returned once a student has answered the active question correctly.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrVersionConflict is returned by stores when the instance changed since it was read.
	ErrVersionConflict = errors.New("instance version conflict")
	// ErrInvalidTemplate is returned when a template fails validation.
	ErrInvalidTemplate = errors.New("invalid template")

	ErrInstanceNotFound    = fmt.Errorf("boss instance %w", ErrNotFound)
	ErrTemplateNotFound    = fmt.Errorf("boss template %w", ErrNotFound)
	ErrQuestionNotFound    = fmt.Errorf("boss question %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
)

// PhaseError reports the status that made an action illegal.
type PhaseError struct {
	Status BattleStatus
	Action string
}

func (e *PhaseError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("invalid battle phase: %s", e.Status)
	}
	return fmt.Sprintf("invalid battle phase: cannot %s while %s", e.Action, e.Status)
}

func (e *PhaseError) Unwrap() error { return ErrInvalidBattlePhase }

// InternalError marks unexpected persistence failures. Callers should not
// expose the wrapped error to clients.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *InternalError) Unwrap() error { return e.Err }

// Internal wraps err as an InternalError unless it already belongs to the
// domain taxonomy.
func Internal(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

var taxonomy = []error{
	ErrInvalidJoinInput,
	ErrInvalidBattlePhase,
	ErrLateJoinRejected,
	ErrBattleClosed,
	ErrNotFound,
	ErrInvalidQuestion,
	ErrInvalidAnswerShape,
	ErrOutOfRange,
	ErrNotEnrolled,
	ErrSpectating,
	ErrAlreadyAnswered,
	ErrInvalidTemplate,
}

// IsDomainError reports whether err is one of the recoverable, user-facing errors.
func IsDomainError(err error) bool {
	for _, target := range taxonomy {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
