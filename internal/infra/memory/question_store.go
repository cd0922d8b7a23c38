package memory

import (
	"context"
	"fmt"
	"sync"

	"classquest-battle/internal/domain"
)

// QuestionStore is an in-memory implementation of app.QuestionStore.
type QuestionStore struct {
	mu        sync.RWMutex
	templates map[string]domain.BossTemplate
	questions map[string][]domain.Question
}

func NewQuestionStore() *QuestionStore {
	return &QuestionStore{
		templates: make(map[string]domain.BossTemplate),
		questions: make(map[string][]domain.Question),
	}
}

func (s *QuestionStore) CreateTemplate(_ context.Context, tpl domain.BossTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[tpl.ID]; ok {
		return fmt.Errorf("template %s already exists", tpl.ID)
	}
	s.templates[tpl.ID] = tpl
	return nil
}

func (s *QuestionStore) GetTemplate(_ context.Context, templateID string) (domain.BossTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[templateID]
	if !ok {
		return domain.BossTemplate{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, templateID)
	}
	return tpl, nil
}

func (s *QuestionStore) CreateQuestion(_ context.Context, q domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[q.TemplateID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, q.TemplateID)
	}
	for _, existing := range s.questions[q.TemplateID] {
		if existing.ID == q.ID {
			return fmt.Errorf("question %s already exists", q.ID)
		}
	}
	s.questions[q.TemplateID] = append(s.questions[q.TemplateID], q)
	return nil
}

func (s *QuestionStore) DeleteQuestion(_ context.Context, templateID, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	questions := s.questions[templateID]
	for i, q := range questions {
		if q.ID == questionID {
			s.questions[templateID] = append(questions[:i:i], questions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
}

func (s *QuestionStore) ListQuestions(_ context.Context, templateID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.templates[templateID]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, templateID)
	}
	return append([]domain.Question(nil), s.questions[templateID]...), nil
}
