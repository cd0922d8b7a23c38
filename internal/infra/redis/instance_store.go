package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"classquest-battle/internal/domain"
	"github.com/redis/go-redis/v9"
)

// InstanceStore keeps battle instances in Redis as JSON documents.
// Layout:
//
//	boss:instance:{id}      JSON of domain.BattleInstance
//	boss:status:{STATUS}    SET of instance ids currently in STATUS
//
// SaveInstance runs under WATCH so a concurrent writer aborts the MULTI and
// the caller sees domain.ErrVersionConflict.
type InstanceStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewInstanceStore(client *redis.Client, ttl time.Duration) *InstanceStore {
	return &InstanceStore{client: client, ttl: ttl}
}

func (s *InstanceStore) CreateInstance(ctx context.Context, inst domain.BattleInstance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.key(inst.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	if !created {
		return fmt.Errorf("instance %s already exists", inst.ID)
	}
	return s.client.SAdd(ctx, s.statusKey(inst.Status), inst.ID).Err()
}

func (s *InstanceStore) GetInstance(ctx context.Context, instanceID string) (domain.BattleInstance, error) {
	return s.get(ctx, s.client, instanceID)
}

func (s *InstanceStore) SaveInstance(ctx context.Context, inst domain.BattleInstance, expected int64) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	key := s.key(inst.ID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, inst.ID)
		if err != nil {
			return err
		}
		if current.Version != expected {
			return fmt.Errorf("%w: have %d, expected %d", domain.ErrVersionConflict, current.Version, expected)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if current.Status != inst.Status {
				pipe.SRem(ctx, s.statusKey(current.Status), inst.ID)
				pipe.SAdd(ctx, s.statusKey(inst.Status), inst.ID)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s changed during save", domain.ErrVersionConflict, inst.ID)
	}
	return err
}

// ListInstanceIDs returns the ids indexed under status. Ids whose instance
// key has expired are dropped from the index on the way out.
func (s *InstanceStore) ListInstanceIDs(ctx context.Context, status domain.BattleStatus) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	exists := make([]*redis.IntCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			exists[i] = pipe.Exists(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	live := ids[:0]
	var stale []any
	for i, id := range ids {
		if exists[i].Val() == 0 {
			stale = append(stale, id)
			continue
		}
		live = append(live, id)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.statusKey(status), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune status index: %w", err)
		}
	}
	sort.Strings(live)
	return live, nil
}

func (s *InstanceStore) get(ctx context.Context, c redis.Cmdable, instanceID string) (domain.BattleInstance, error) {
	raw, err := c.Get(ctx, s.key(instanceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.BattleInstance{}, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
	}
	if err != nil {
		return domain.BattleInstance{}, fmt.Errorf("get instance: %w", err)
	}
	var inst domain.BattleInstance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return domain.BattleInstance{}, fmt.Errorf("unmarshal instance: %w", err)
	}
	inst.EnsureMaps()
	return inst, nil
}

func (s *InstanceStore) key(instanceID string) string {
	return "boss:instance:" + instanceID
}

func (s *InstanceStore) statusKey(status domain.BattleStatus) string {
	return "boss:status:" + string(status)
}
