package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"basegraph.app/intake/internal/model"
)

// RedisFewShotStore keeps one Redis list per domain, newest at the head.
// LPUSH and LTRIM run in one MULTI, so concurrent writers never exceed the bound.
type RedisFewShotStore struct {
	client      *redis.Client
	prefix      string
	maxExamples int
}

func NewRedisFewShotStore(client *redis.Client, prefix string, maxExamples int) (*RedisFewShotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis few-shot store requires a redis client")
	}
	if maxExamples <= 0 {
		return nil, fmt.Errorf("few-shot max examples must be positive, got %d", maxExamples)
	}
	if prefix == "" {
		prefix = "intake:fewshot"
	}
	return &RedisFewShotStore{client: client, prefix: prefix, maxExamples: maxExamples}, nil
}

func (s *RedisFewShotStore) key(domain model.Domain) string {
	return s.prefix + ":" + string(domain)
}

func (s *RedisFewShotStore) Examples(ctx context.Context, domain model.Domain, limit int) ([]model.FewShotExample, error) {
	if limit <= 0 {
		return []model.FewShotExample{}, nil
	}

	raw, err := s.client.LRange(ctx, s.key(domain), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange few-shot (domain=%s): %w", domain, err)
	}

	out := make([]model.FewShotExample, 0, len(raw))
	for _, item := range raw {
		var ex model.FewShotExample
		if err := json.Unmarshal([]byte(item), &ex); err != nil {
			slog.WarnContext(ctx, "skipping undecodable few-shot example", "error", err, "domain", domain)
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

func (s *RedisFewShotStore) Add(ctx context.Context, ex model.FewShotExample) error {
	ex.Query = truncateQuery(ex.Query)
	raw, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("encoding few-shot example: %w", err)
	}

	key := s.key(ex.Domain)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, raw)
		pipe.LTrim(ctx, key, 0, int64(s.maxExamples-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing few-shot example (domain=%s): %w", ex.Domain, err)
	}
	return nil
}
