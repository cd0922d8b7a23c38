package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"classquest-battle/internal/domain"
	"github.com/uptrace/bun"
)

// QuestionStore keeps templates and questions in Postgres. Questions are
// returned ordered by their order key, ties broken by insertion sequence.
type QuestionStore struct {
	db *bun.DB
}

func NewQuestionStore(db *bun.DB) *QuestionStore {
	return &QuestionStore{db: db}
}

func (s *QuestionStore) CreateTemplate(ctx context.Context, tpl domain.BossTemplate) error {
	row := templateRowFrom(tpl)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *QuestionStore) GetTemplate(ctx context.Context, templateID string) (domain.BossTemplate, error) {
	var row templateRow
	err := s.db.NewSelect().Model(&row).Where("bt.id = ?", templateID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BossTemplate{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, templateID)
	}
	if err != nil {
		return domain.BossTemplate{}, fmt.Errorf("load template: %w", err)
	}
	return row.toDomain(), nil
}

func (s *QuestionStore) CreateQuestion(ctx context.Context, q domain.Question) error {
	if err := s.templateExists(ctx, q.TemplateID); err != nil {
		return err
	}
	row, err := questionRowFrom(q)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(&row).ExcludeColumn("seq").Exec(ctx); err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (s *QuestionStore) DeleteQuestion(ctx context.Context, templateID, questionID string) error {
	res, err := s.db.NewDelete().
		Model((*questionRow)(nil)).
		Where("boss_template_id = ?", templateID).
		Where("question_id = ?", questionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
	}
	return nil
}

func (s *QuestionStore) ListQuestions(ctx context.Context, templateID string) ([]domain.Question, error) {
	if err := s.templateExists(ctx, templateID); err != nil {
		return nil, err
	}
	var rows []questionRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("bq.boss_template_id = ?", templateID).
		Order("bq.order_key ASC", "bq.seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	out := make([]domain.Question, 0, len(rows))
	for _, row := range rows {
		q, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *QuestionStore) templateExists(ctx context.Context, templateID string) error {
	ok, err := s.db.NewSelect().Model((*templateRow)(nil)).Where("bt.id = ?", templateID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("check template: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, templateID)
	}
	return nil
}
