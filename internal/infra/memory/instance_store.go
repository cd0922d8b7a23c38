package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"classquest-battle/internal/domain"
)

// InstanceStore is an in-memory implementation of app.InstanceStore. Saves
// are compare-and-swap on the instance version.
type InstanceStore struct {
	mu        sync.RWMutex
	instances map[string]domain.BattleInstance
}

func NewInstanceStore() *InstanceStore {
	return &InstanceStore{
		instances: make(map[string]domain.BattleInstance),
	}
}

func (s *InstanceStore) CreateInstance(_ context.Context, inst domain.BattleInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; ok {
		return fmt.Errorf("instance %s already exists", inst.ID)
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InstanceStore) GetInstance(_ context.Context, instanceID string) (domain.BattleInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return domain.BattleInstance{}, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
	}
	return inst.Clone(), nil
}

func (s *InstanceStore) SaveInstance(_ context.Context, inst domain.BattleInstance, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.instances[inst.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, inst.ID)
	}
	if current.Version != expected {
		return fmt.Errorf("%w: have %d, expected %d", domain.ErrVersionConflict, current.Version, expected)
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InstanceStore) ListInstanceIDs(_ context.Context, status domain.BattleStatus) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, inst := range s.instances {
		if inst.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
