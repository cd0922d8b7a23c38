package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"classquest-battle/internal/domain"
)

const maxIDLength = 128

// ParticipantRegistry tracks who is in a battle instance and in what capacity.
type ParticipantRegistry struct {
	store ParticipantStore
	now   Clock
}

func NewParticipantRegistry(store ParticipantStore) *ParticipantRegistry {
	return &ParticipantRegistry{store: store, now: time.Now}
}

// Join upserts the participant as JOINED. Calling it again with the same ids
// refreshes the record instead of duplicating it; a spectator is not promoted.
func (r *ParticipantRegistry) Join(ctx context.Context, instanceID, studentID, classID, guildID string) (domain.Participant, error) {
	if err := validateJoinIDs(instanceID, studentID, classID, guildID); err != nil {
		return domain.Participant{}, err
	}
	now := r.now()
	p, err := r.store.UpsertParticipant(ctx, domain.Participant{
		InstanceID: instanceID,
		StudentID:  studentID,
		ClassID:    classID,
		GuildID:    guildID,
		State:      domain.ParticipantJoined,
		JoinedAt:   now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.Participant{}, domain.Internal("upsert participant", err)
	}
	return p, nil
}

// MarkSpectate moves an existing participant to SPECTATE.
func (r *ParticipantRegistry) MarkSpectate(ctx context.Context, instanceID, studentID string) (domain.Participant, error) {
	p, err := r.store.UpdateParticipantState(ctx, instanceID, studentID, domain.ParticipantSpectate, r.now())
	if err != nil {
		return domain.Participant{}, domain.Internal("mark spectate", err)
	}
	return p, nil
}

// Participant returns the record for one student.
func (r *ParticipantRegistry) Participant(ctx context.Context, instanceID, studentID string) (domain.Participant, error) {
	p, err := r.store.GetParticipant(ctx, instanceID, studentID)
	if err != nil {
		return domain.Participant{}, domain.Internal("get participant", err)
	}
	return p, nil
}

// MembersOf lists every participant of an instance in no particular order.
func (r *ParticipantRegistry) MembersOf(ctx context.Context, instanceID string) ([]domain.Participant, error) {
	members, err := r.store.ListParticipants(ctx, instanceID)
	if err != nil {
		return nil, domain.Internal("list participants", err)
	}
	return members, nil
}

func validateJoinIDs(instanceID, studentID, classID, guildID string) error {
	for _, field := range []struct{ name, value string }{
		{"boss_instance_id", instanceID},
		{"student_id", studentID},
		{"class_id", classID},
		{"guild_id", guildID},
	} {
		if err := validateID(field.value); err != nil {
			return fmt.Errorf("%w: %s %v", domain.ErrInvalidJoinInput, field.name, err)
		}
	}
	return nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("is empty")
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("exceeds %d bytes", maxIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar {
			return fmt.Errorf("contains invalid character %q", r)
		}
	}
	return nil
}
