package app

import (
	"context"
	"time"

	"classquest-battle/internal/domain"
	"go.uber.org/zap"
)

// QuestionTimer periodically expires active questions whose time limit has
// passed.
type QuestionTimer struct {
	battles   *BattleService
	instances InstanceStore
	interval  time.Duration
	log       *zap.Logger
}

func NewQuestionTimer(battles *BattleService, instances InstanceStore, interval time.Duration, log *zap.Logger) *QuestionTimer {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &QuestionTimer{battles: battles, instances: instances, interval: interval, log: log}
}

// Run ticks until ctx is canceled.
func (t *QuestionTimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick expires every overdue question once and returns how many moved to
// RESOLVING.
func (t *QuestionTimer) Tick(ctx context.Context) int {
	ids, err := t.instances.ListInstanceIDs(ctx, domain.StatusQuestionActive)
	if err != nil {
		t.log.Error("list active battles", zap.Error(err))
		return 0
	}
	expired := 0
	for _, id := range ids {
		ok, err := t.battles.ExpireQuestion(ctx, id)
		if err != nil {
			t.log.Warn("expire question", zap.String("instance_id", id), zap.Error(err))
			continue
		}
		if ok {
			expired++
			t.log.Info("question time limit reached", zap.String("instance_id", id))
		}
	}
	return expired
}
