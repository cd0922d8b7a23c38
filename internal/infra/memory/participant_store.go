package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"classquest-battle/internal/domain"
)

type participantKey struct {
	instanceID string
	studentID  string
}

// ParticipantStore is an in-memory implementation of app.ParticipantStore.
type ParticipantStore struct {
	mu           sync.RWMutex
	participants map[participantKey]domain.Participant
}

func NewParticipantStore() *ParticipantStore {
	return &ParticipantStore{
		participants: make(map[participantKey]domain.Participant),
	}
}

func (s *ParticipantStore) UpsertParticipant(_ context.Context, p domain.Participant) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participantKey{p.InstanceID, p.StudentID}
	if existing, ok := s.participants[key]; ok {
		existing.ClassID = p.ClassID
		existing.GuildID = p.GuildID
		existing.UpdatedAt = p.UpdatedAt
		s.participants[key] = existing
		return existing, nil
	}
	s.participants[key] = p
	return p, nil
}

func (s *ParticipantStore) GetParticipant(_ context.Context, instanceID, studentID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantKey{instanceID, studentID}]
	if !ok {
		return domain.Participant{}, fmt.Errorf("%w: %s in %s", domain.ErrParticipantNotFound, studentID, instanceID)
	}
	return p, nil
}

func (s *ParticipantStore) UpdateParticipantState(_ context.Context, instanceID, studentID string, state domain.ParticipantState, at time.Time) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participantKey{instanceID, studentID}
	p, ok := s.participants[key]
	if !ok {
		return domain.Participant{}, fmt.Errorf("%w: %s in %s", domain.ErrParticipantNotFound, studentID, instanceID)
	}
	p.State = state
	p.UpdatedAt = at
	s.participants[key] = p
	return p, nil
}

func (s *ParticipantStore) ListParticipants(_ context.Context, instanceID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0)
	for key, p := range s.participants {
		if key.instanceID == instanceID {
			out = append(out, p)
		}
	}
	return out, nil
}
