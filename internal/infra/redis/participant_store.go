package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"classquest-battle/internal/domain"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// ParticipantStore keeps participants as one hash per instance:
// HSET boss:instance:{id}:participants {studentID} {json}
type ParticipantStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewParticipantStore(client *redis.Client, ttl time.Duration) *ParticipantStore {
	return &ParticipantStore{client: client, ttl: ttl}
}

func (s *ParticipantStore) UpsertParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	var stored domain.Participant
	err := s.update(ctx, p.InstanceID, p.StudentID, func(existing *domain.Participant) (domain.Participant, error) {
		if existing == nil {
			return p, nil
		}
		next := *existing
		next.ClassID = p.ClassID
		next.GuildID = p.GuildID
		next.UpdatedAt = p.UpdatedAt
		return next, nil
	}, &stored)
	return stored, err
}

func (s *ParticipantStore) UpdateParticipantState(ctx context.Context, instanceID, studentID string, state domain.ParticipantState, at time.Time) (domain.Participant, error) {
	var stored domain.Participant
	err := s.update(ctx, instanceID, studentID, func(existing *domain.Participant) (domain.Participant, error) {
		if existing == nil {
			return domain.Participant{}, fmt.Errorf("%w: %s in %s", domain.ErrParticipantNotFound, studentID, instanceID)
		}
		next := *existing
		next.State = state
		next.UpdatedAt = at
		return next, nil
	}, &stored)
	return stored, err
}

func (s *ParticipantStore) GetParticipant(ctx context.Context, instanceID, studentID string) (domain.Participant, error) {
	p, err := s.read(ctx, s.client, instanceID, studentID)
	if err != nil {
		return domain.Participant{}, err
	}
	if p == nil {
		return domain.Participant{}, fmt.Errorf("%w: %s in %s", domain.ErrParticipantNotFound, studentID, instanceID)
	}
	return *p, nil
}

func (s *ParticipantStore) ListParticipants(ctx context.Context, instanceID string) ([]domain.Participant, error) {
	all, err := s.client.HGetAll(ctx, s.key(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]domain.Participant, 0, len(all))
	for studentID, raw := range all {
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("unmarshal participant %s: %w", studentID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// update applies fn to the stored record under WATCH, retrying when another
// writer touched the hash in between.
func (s *ParticipantStore) update(ctx context.Context, instanceID, studentID string, fn func(*domain.Participant) (domain.Participant, error), out *domain.Participant) error {
	key := s.key(instanceID)
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			existing, err := s.read(ctx, tx, instanceID, studentID)
			if err != nil {
				return err
			}
			next, err := fn(existing)
			if err != nil {
				return err
			}
			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("marshal participant: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, studentID, data)
				if s.ttl > 0 {
					pipe.Expire(ctx, key, s.ttl)
				}
				return nil
			})
			if err == nil {
				*out = next
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("participant %s in %s: too much contention", studentID, instanceID)
}

func (s *ParticipantStore) read(ctx context.Context, c redis.Cmdable, instanceID, studentID string) (*domain.Participant, error) {
	raw, err := c.HGet(ctx, s.key(instanceID), studentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	var p domain.Participant
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal participant: %w", err)
	}
	return &p, nil
}

func (s *ParticipantStore) key(instanceID string) string {
	return "boss:instance:" + instanceID + ":participants"
}
