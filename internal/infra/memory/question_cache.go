package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"classquest-battle/internal/app"
	"classquest-battle/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionCache fronts an app.QuestionStore with a TTL cache of each
// template's question list. Writes go through and invalidate.
type QuestionCache struct {
	store app.QuestionStore
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand
	rndMu sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCache(store app.QuestionStore, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		store: store,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedQuestions),
	}
}

func (c *QuestionCache) CreateTemplate(ctx context.Context, tpl domain.BossTemplate) error {
	return c.store.CreateTemplate(ctx, tpl)
}

func (c *QuestionCache) GetTemplate(ctx context.Context, templateID string) (domain.BossTemplate, error) {
	return c.store.GetTemplate(ctx, templateID)
}

func (c *QuestionCache) CreateQuestion(ctx context.Context, q domain.Question) error {
	defer c.invalidate(q.TemplateID)
	return c.store.CreateQuestion(ctx, q)
}

func (c *QuestionCache) DeleteQuestion(ctx context.Context, templateID, questionID string) error {
	defer c.invalidate(templateID)
	return c.store.DeleteQuestion(ctx, templateID, questionID)
}

func (c *QuestionCache) ListQuestions(ctx context.Context, templateID string) ([]domain.Question, error) {
	if questions, ok := c.lookup(templateID); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(templateID, func() (interface{}, error) {
		// Re-check in case another caller filled the entry.
		if questions, ok := c.lookup(templateID); ok {
			return questions, nil
		}
		questions, err := c.store.ListQuestions(ctx, templateID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[templateID] = cachedQuestions{
			questions: questions,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

func (c *QuestionCache) lookup(templateID string) ([]domain.Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[templateID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false
	}
	return append([]domain.Question(nil), entry.questions...), true
}

func (c *QuestionCache) invalidate(templateID string) {
	c.mu.Lock()
	delete(c.cache, templateID)
	c.mu.Unlock()
	c.sf.Forget(templateID)
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
