package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"classquest-battle/internal/app"
	"classquest-battle/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionCache caches each template's ordered question list in Redis and
// falls back to the backing store on a miss.
// Questions are stored as: SET boss:template:{templateID}:questions {json array}
// Templates are stored as: SET boss:template:{templateID} {json}
type QuestionCache struct {
	client *redis.Client
	store  app.QuestionStore
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

func NewQuestionCache(client *redis.Client, store app.QuestionStore, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		store:  store,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) CreateTemplate(ctx context.Context, tpl domain.BossTemplate) error {
	return c.store.CreateTemplate(ctx, tpl)
}

// GetTemplate is cached without invalidation since templates are immutable.
func (c *QuestionCache) GetTemplate(ctx context.Context, templateID string) (domain.BossTemplate, error) {
	key := c.templateKey(templateID)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var tpl domain.BossTemplate
		if json.Unmarshal(raw, &tpl) == nil {
			return tpl, nil
		}
	}
	tpl, err := c.store.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.BossTemplate{}, err
	}
	if data, err := json.Marshal(tpl); err == nil {
		_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
	}
	return tpl, nil
}

func (c *QuestionCache) CreateQuestion(ctx context.Context, q domain.Question) error {
	if err := c.store.CreateQuestion(ctx, q); err != nil {
		return err
	}
	c.invalidate(ctx, q.TemplateID)
	return nil
}

func (c *QuestionCache) DeleteQuestion(ctx context.Context, templateID, questionID string) error {
	if err := c.store.DeleteQuestion(ctx, templateID, questionID); err != nil {
		return err
	}
	c.invalidate(ctx, templateID)
	return nil
}

func (c *QuestionCache) ListQuestions(ctx context.Context, templateID string) ([]domain.Question, error) {
	key := c.questionsKey(templateID)
	if questions, ok := c.cached(ctx, key); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(templateID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if questions, ok := c.cached(ctx, key); ok {
			return questions, nil
		}
		questions, err := c.store.ListQuestions(ctx, templateID)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(questions); err == nil {
			_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

func (c *QuestionCache) cached(ctx context.Context, key string) ([]domain.Question, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, false
	}
	return questions, true
}

func (c *QuestionCache) invalidate(ctx context.Context, templateID string) {
	_ = c.client.Del(ctx, c.questionsKey(templateID)).Err()
	c.sf.Forget(templateID)
}

func (c *QuestionCache) questionsKey(templateID string) string {
	return "boss:template:" + templateID + ":questions"
}

func (c *QuestionCache) templateKey(templateID string) string {
	return "boss:template:" + templateID
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
