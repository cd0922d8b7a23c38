package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"classquest-battle/internal/domain"
	"github.com/uptrace/bun"
)

// InstanceStore keeps battle instances in Postgres. SaveInstance is a
// version-guarded UPDATE so concurrent writers cannot both win.
type InstanceStore struct {
	db *bun.DB
}

func NewInstanceStore(db *bun.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

func (s *InstanceStore) CreateInstance(ctx context.Context, inst domain.BattleInstance) error {
	row := instanceRowFrom(inst)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

func (s *InstanceStore) GetInstance(ctx context.Context, instanceID string) (domain.BattleInstance, error) {
	var row instanceRow
	err := s.db.NewSelect().Model(&row).Where("bi.boss_instance_id = ?", instanceID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BattleInstance{}, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, instanceID)
	}
	if err != nil {
		return domain.BattleInstance{}, fmt.Errorf("load instance: %w", err)
	}
	return row.toDomain(), nil
}

func (s *InstanceStore) SaveInstance(ctx context.Context, inst domain.BattleInstance, expected int64) error {
	row := instanceRowFrom(inst)
	res, err := s.db.NewUpdate().
		Model(&row).
		WherePK().
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if n > 0 {
		return nil
	}
	exists, err := s.db.NewSelect().
		Model((*instanceRow)(nil)).
		Where("bi.boss_instance_id = ?", inst.ID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("check instance: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, inst.ID)
	}
	return fmt.Errorf("%w: expected %d", domain.ErrVersionConflict, expected)
}

func (s *InstanceStore) ListInstanceIDs(ctx context.Context, status domain.BattleStatus) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().
		Model((*instanceRow)(nil)).
		Column("boss_instance_id").
		Where("bi.status = ?", string(status)).
		Order("bi.boss_instance_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return ids, nil
}
