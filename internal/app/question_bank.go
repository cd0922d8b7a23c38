package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"classquest-battle/internal/domain"
	"github.com/google/uuid"
)

// QuestionBank owns boss templates and the ordered questions attached to them.
type QuestionBank struct {
	store QuestionStore
	now   Clock
}

func NewQuestionBank(store QuestionStore) *QuestionBank {
	return &QuestionBank{store: store, now: time.Now}
}

// CreateTemplate validates tpl, assigns an id when missing and stores it.
func (b *QuestionBank) CreateTemplate(ctx context.Context, tpl domain.BossTemplate) (domain.BossTemplate, error) {
	if err := tpl.Validate(); err != nil {
		return domain.BossTemplate{}, err
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	tpl.DamageAggregation = tpl.DamageAggregation.OrDefault()
	tpl.CreatedAt = b.now()
	if err := b.store.CreateTemplate(ctx, tpl); err != nil {
		return domain.BossTemplate{}, domain.Internal("create template", err)
	}
	return tpl, nil
}

func (b *QuestionBank) Template(ctx context.Context, templateID string) (domain.BossTemplate, error) {
	tpl, err := b.store.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.BossTemplate{}, domain.Internal("get template", err)
	}
	return tpl, nil
}

// CreateQuestion validates q and attaches it to its template.
func (b *QuestionBank) CreateQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	key, err := domain.OrderKey(q.OrderIndex)
	if err != nil {
		return domain.Question{}, err
	}
	if _, err := b.Template(ctx, q.TemplateID); err != nil {
		return domain.Question{}, err
	}
	q.OrderKey = key
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.CreatedAt = b.now()
	if err := b.store.CreateQuestion(ctx, q); err != nil {
		return domain.Question{}, domain.Internal("create question", err)
	}
	return q, nil
}

// DeleteQuestion removes a question unconditionally. Running battles that
// reference it are not checked.
func (b *QuestionBank) DeleteQuestion(ctx context.Context, templateID, questionID string) error {
	if err := b.store.DeleteQuestion(ctx, templateID, questionID); err != nil {
		return domain.Internal("delete question", err)
	}
	return nil
}

// QuestionsForTemplate returns the template's questions ascending by order
// key; equal keys keep insertion order.
func (b *QuestionBank) QuestionsForTemplate(ctx context.Context, templateID string) ([]domain.Question, error) {
	questions, err := b.store.ListQuestions(ctx, templateID)
	if err != nil {
		return nil, domain.Internal("list questions", err)
	}
	out := append([]domain.Question(nil), questions...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderKey < out[j].OrderKey
	})
	return out, nil
}

// Question looks up a single question of a template.
func (b *QuestionBank) Question(ctx context.Context, templateID, questionID string) (domain.Question, int, error) {
	questions, err := b.QuestionsForTemplate(ctx, templateID)
	if err != nil {
		return domain.Question{}, -1, err
	}
	for i, q := range questions {
		if q.ID == questionID {
			return q, i, nil
		}
	}
	return domain.Question{}, -1, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
}
