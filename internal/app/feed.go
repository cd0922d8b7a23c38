package app

import (
	"sort"
	"sync"

	"classquest-battle/internal/domain"
)

// Feed fans battle snapshots out to subscribers of each instance.
type Feed struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.Snapshot]struct{}
}

func NewFeed() *Feed {
	return &Feed{subscribers: make(map[string]map[chan domain.Snapshot]struct{})}
}

// Subscribe registers a channel for instanceID and primes it with initial.
// The caller must invoke the returned cancel function to avoid leaks.
func (f *Feed) Subscribe(instanceID string, initial domain.Snapshot) (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 8)
	// primed before it is visible to Publish, so the send never blocks
	ch <- initial

	f.mu.Lock()
	subs, ok := f.subscribers[instanceID]
	if !ok {
		subs = make(map[chan domain.Snapshot]struct{})
		f.subscribers[instanceID] = subs
	}
	subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		subs, ok := f.subscribers[instanceID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(f.subscribers, instanceID)
		}
	}
	return ch, cancel
}

// Publish delivers snap to every subscriber of its instance. Slow
// subscribers lose their oldest pending snapshot rather than block.
func (f *Feed) Publish(snap domain.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers[snap.InstanceID] {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// Subscribers counts active subscriptions for instanceID.
func (f *Feed) Subscribers(instanceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers[instanceID])
}

// SnapshotOf renders the client view of inst. The leaderboard is ordered by
// damage, then by who got there first, then by student id.
func SnapshotOf(inst domain.BattleInstance) domain.Snapshot {
	entries := make([]domain.ScoreEntry, 0, len(inst.Scores))
	for _, score := range inst.Scores {
		entries = append(entries, domain.ScoreEntry{
			StudentID: score.StudentID,
			GuildID:   score.GuildID,
			XP:        score.XP,
			Gold:      score.Gold,
			Damage:    score.Damage,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Damage != entries[j].Damage {
			return entries[i].Damage > entries[j].Damage
		}
		si := inst.Scores[entries[i].StudentID]
		sj := inst.Scores[entries[j].StudentID]
		if !si.LastUpdated.Equal(sj.LastUpdated) {
			return si.LastUpdated.Before(sj.LastUpdated)
		}
		return entries[i].StudentID < entries[j].StudentID
	})

	guildHP := make(map[string]int, len(inst.GuildHP))
	for k, v := range inst.GuildHP {
		guildHP[k] = v
	}
	return domain.Snapshot{
		InstanceID:           inst.ID,
		Status:               inst.Status,
		BossHP:               inst.CurrentHP,
		MaxHP:                inst.MaxHP,
		CurrentQuestionIndex: inst.CurrentQuestionIndex,
		QuestionDeadline:     inst.QuestionDeadline,
		GuildHP:              guildHP,
		Leaderboard:          entries,
		Outcome:              inst.Outcome,
		UpdatedAt:            inst.UpdatedAt,
	}
}
