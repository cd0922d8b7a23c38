package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_battles.sql
var createBattlesSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createBattlesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
				DROP TABLE IF EXISTS class_enrollments;
				DROP TABLE IF EXISTS boss_participants;
				DROP TABLE IF EXISTS boss_instances;
				DROP TABLE IF EXISTS boss_questions;
				DROP TABLE IF EXISTS boss_templates;`)
			return err
		},
	)
}
