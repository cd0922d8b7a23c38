package memory

import (
	"context"
	"sync"
)

// StaticRoster is an enrollment checker backed by an in-memory class roster
// (useful for tests/demos).
type StaticRoster struct {
	mu      sync.RWMutex
	classes map[string]map[string]struct{}
}

func NewStaticRoster(rosters map[string][]string) *StaticRoster {
	r := &StaticRoster{classes: make(map[string]map[string]struct{})}
	for classID, students := range rosters {
		r.Enroll(classID, students...)
	}
	return r
}

// Enroll adds students to a class.
func (r *StaticRoster) Enroll(classID string, studentIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.classes[classID]
	if !ok {
		members = make(map[string]struct{})
		r.classes[classID] = members
	}
	for _, id := range studentIDs {
		members[id] = struct{}{}
	}
}

func (r *StaticRoster) IsEnrolled(_ context.Context, classID, studentID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.classes[classID][studentID]
	return ok, nil
}
