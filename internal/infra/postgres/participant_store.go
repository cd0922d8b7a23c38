package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"classquest-battle/internal/domain"
	"github.com/uptrace/bun"
)

// ParticipantStore keeps participant records in Postgres, one row per
// (instance, student).
type ParticipantStore struct {
	db *bun.DB
}

func NewParticipantStore(db *bun.DB) *ParticipantStore {
	return &ParticipantStore{db: db}
}

// UpsertParticipant inserts p; on conflict only class, guild and updated_at
// are refreshed so an existing state survives a rejoin.
func (s *ParticipantStore) UpsertParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	row := participantRowFrom(p)
	err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (boss_instance_id, student_id) DO UPDATE").
		Set("class_id = EXCLUDED.class_id").
		Set("guild_id = EXCLUDED.guild_id").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Scan(ctx)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("upsert participant: %w", err)
	}
	return row.toDomain(), nil
}

func (s *ParticipantStore) GetParticipant(ctx context.Context, instanceID, studentID string) (domain.Participant, error) {
	var row participantRow
	err := s.db.NewSelect().
		Model(&row).
		Where("bp.boss_instance_id = ?", instanceID).
		Where("bp.student_id = ?", studentID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, fmt.Errorf("%w: %s in %s", domain.ErrParticipantNotFound, studentID, instanceID)
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("load participant: %w", err)
	}
	return row.toDomain(), nil
}

func (s *ParticipantStore) UpdateParticipantState(ctx context.Context, instanceID, studentID string, state domain.ParticipantState, at time.Time) (domain.Participant, error) {
	var row participantRow
	err := s.db.NewUpdate().
		Model(&row).
		Set("state = ?", string(state)).
		Set("updated_at = ?", at).
		Where("boss_instance_id = ?", instanceID).
		Where("student_id = ?", studentID).
		Returning("*").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, fmt.Errorf("%w: %s in %s", domain.ErrParticipantNotFound, studentID, instanceID)
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("update participant: %w", err)
	}
	return row.toDomain(), nil
}

func (s *ParticipantStore) ListParticipants(ctx context.Context, instanceID string) ([]domain.Participant, error) {
	var rows []participantRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("bp.boss_instance_id = ?", instanceID).
		Order("bp.joined_at ASC", "bp.student_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]domain.Participant, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
