package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ScoreBoard/internal/state"
)

// MaxCommandsPerItem bounds the command history kept per item.
const MaxCommandsPerItem = 200

// RedisStore keeps one JSON record per annotation plus a per-item sorted set
// scored by creation time.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings the server.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func annotationKey(id string) string {
	return fmt.Sprintf("annotation:%s", id)
}

func itemAnnotationsKey(itemID string) string {
	return fmt.Sprintf("item:%s:annotations", itemID)
}

func itemCommandsKey(itemID string) string {
	return fmt.Sprintf("event:%s:commands", itemID)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

func (s *RedisStore) queueCreate(ctx context.Context, pipe redis.Pipeliner, a state.Annotation) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal annotation: %w", err)
	}
	pipe.Set(ctx, annotationKey(a.ID), data, 0)
	pipe.ZAdd(ctx, itemAnnotationsKey(a.ItemID), redis.Z{
		Score:  float64(a.CreatedAt.UnixMilli()),
		Member: a.ID,
	})
	return nil
}

func (s *RedisStore) Create(ctx context.Context, a state.Annotation) (state.Annotation, error) {
	pipe := s.client.TxPipeline()
	if err := s.queueCreate(ctx, pipe, a); err != nil {
		return state.Annotation{}, err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return state.Annotation{}, unavailable("save annotation", err)
	}
	return a, nil
}

// BulkCreate writes the batch in one MULTI; it either saves all or none.
func (s *RedisStore) BulkCreate(ctx context.Context, as []state.Annotation) ([]state.Annotation, error) {
	if len(as) == 0 {
		return nil, nil
	}
	pipe := s.client.TxPipeline()
	for _, a := range as {
		if err := s.queueCreate(ctx, pipe, a); err != nil {
			return nil, err
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("bulk save annotations", err)
	}
	return as, nil
}

func (s *RedisStore) get(ctx context.Context, id string) (state.Annotation, error) {
	data, err := s.client.Get(ctx, annotationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return state.Annotation{}, ErrNotFound
	}
	if err != nil {
		return state.Annotation{}, unavailable("get annotation", err)
	}
	var a state.Annotation
	if err := json.Unmarshal(data, &a); err != nil {
		return state.Annotation{}, fmt.Errorf("decode annotation %s: %w", id, err)
	}
	return a, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	a, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, annotationKey(id))
	pipe.ZRem(ctx, itemAnnotationsKey(a.ItemID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("delete annotation", err)
	}
	return nil
}

func (s *RedisStore) ListByItem(ctx context.Context, itemID string) ([]state.Annotation, error) {
	ids, err := s.client.ZRange(ctx, itemAnnotationsKey(itemID), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list annotations", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = annotationKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("load annotations", err)
	}
	out := make([]state.Annotation, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var a state.Annotation
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) CreateCommand(ctx context.Context, c state.Command) (state.Command, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return state.Command{}, fmt.Errorf("marshal command: %w", err)
	}
	key := itemCommandsKey(c.ItemID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -MaxCommandsPerItem, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return state.Command{}, unavailable("save command", err)
	}
	return c, nil
}

func (s *RedisStore) ListCommands(ctx context.Context, itemID string, limit int) ([]state.Command, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	results, err := s.client.LRange(ctx, itemCommandsKey(itemID), start, -1).Result()
	if err != nil {
		return nil, unavailable("list commands", err)
	}
	out := make([]state.Command, 0, len(results))
	for _, data := range results {
		var c state.Command
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
