package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/logging"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
)

// IdempotencyStore caches the rendered response for a previously seen
// `X-Idempotency-Key`/`message_id`, replayed verbatim on retry delivery.
// Re-rendering on replay would be wrong — state has advanced since.
// TTL ≈ 10 min.
type IdempotencyStore struct {
	client *redis.Client
	log    *logrus.Logger
	ttl    time.Duration
}

// NewIdempotencyStore wraps an already-configured *redis.Client with the
// configured idempotency-record TTL.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration, log *logrus.Logger) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &IdempotencyStore{client: client, log: log, ttl: ttl}
}

func idempotencyKey(key string) string { return "idem:" + key }

// Get returns the cached record for key, or nil if none exists (not an
// error — a cache miss is the common path).
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*session.IdempotencyRecord, error) {
	data, err := s.client.Get(ctx, idempotencyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, sharederrors.FailedToWithDetails("get idempotency record", "redis", key, err)
	}

	var record session.IdempotencyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, sharederrors.ParseError("idempotency record", "json", err)
	}
	return &record, nil
}

// Put caches statusCode/responseBody under key for the configured TTL.
// Called only after the engine has durably written session state, so a
// retried delivery never replays a response for a write that didn't
// happen.
func (s *IdempotencyStore) Put(ctx context.Context, key string, statusCode int, responseBody []byte) error {
	fields := logging.DatabaseFields("put_idempotency", "idempotency")

	record := session.IdempotencyRecord{
		IdempotencyKey: key,
		StatusCode:     statusCode,
		ResponseBody:   responseBody,
		CreatedAt:      time.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return sharederrors.ParseError("idempotency record", "json", err)
	}

	if err := s.client.Set(ctx, idempotencyKey(key), data, s.ttl).Err(); err != nil {
		s.log.WithFields(fields.Error(err).ToLogrus()).Warn("put idempotency record failed")
		return sharederrors.FailedToWithDetails("put idempotency record", "redis", key, err)
	}
	return nil
}
