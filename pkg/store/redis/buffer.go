package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/logging"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
)

// BufferStore is the temporally-ordered, append-only conversation buffer:
// a per-session sorted set keyed by createdAtEpoch, retained ≈ 7 days by
// a key-level EXPIRE refreshed on every Append. Sorted sets have no
// member-level TTL; Sweep trims old members on demand.
type BufferStore struct {
	client *redis.Client
	log    *logrus.Logger
	ttl    time.Duration
}

// NewBufferStore wraps an already-configured *redis.Client with the
// configured buffer retention window.
func NewBufferStore(client *redis.Client, ttl time.Duration, log *logrus.Logger) *BufferStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &BufferStore{client: client, log: log, ttl: ttl}
}

func bufferKey(sessionID string) string { return "buffer:" + sessionID }

// Append adds entry to sessionID's buffer, never reading the full
// history during the hot path.
func (b *BufferStore) Append(ctx context.Context, sessionID string, entry session.BufferEntry) error {
	fields := logging.DatabaseFields("append_buffer", "buffer")

	data, err := json.Marshal(entry)
	if err != nil {
		return sharederrors.ParseError("buffer entry", "json", err)
	}

	key := bufferKey(sessionID)
	pipe := b.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(entry.CreatedAtEpoch), Member: data})
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.WithFields(fields.Error(err).ToLogrus()).Warn("append buffer failed")
		return sharederrors.FailedToWithDetails("append buffer", "redis", sessionID, err)
	}
	return nil
}

// ReadOptions controls ReadBuffer's window and order.
type ReadOptions struct {
	Since      int64 // inclusive lower bound on createdAtEpoch; 0 means "from the start"
	Limit      int64 // 0 means unlimited
	Descending bool
}

// ReadBuffer returns entries ordered by createdAtEpoch ascending, unless
// opts.Descending is set, per the `readBuffer` contract.
func (b *BufferStore) ReadBuffer(ctx context.Context, sessionID string, opts ReadOptions) ([]session.BufferEntry, error) {
	key := bufferKey(sessionID)
	min := "-inf"
	if opts.Since > 0 {
		min = formatScore(opts.Since)
	}

	var raw []string
	var err error
	if opts.Descending {
		zopts := &redis.ZRangeBy{Min: min, Max: "+inf"}
		if opts.Limit > 0 {
			zopts.Offset, zopts.Count = 0, opts.Limit
		}
		raw, err = b.client.ZRevRangeByScore(ctx, key, zopts).Result()
	} else {
		zopts := &redis.ZRangeBy{Min: min, Max: "+inf"}
		if opts.Limit > 0 {
			zopts.Offset, zopts.Count = 0, opts.Limit
		}
		raw, err = b.client.ZRangeByScore(ctx, key, zopts).Result()
	}
	if err != nil {
		return nil, sharederrors.FailedToWithDetails("read buffer", "redis", sessionID, err)
	}

	entries := make([]session.BufferEntry, 0, len(raw))
	for _, item := range raw {
		var entry session.BufferEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, sharederrors.ParseError("buffer entry", "json", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Sweep trims entries older than the retention window across a single
// session's buffer. The key-level EXPIRE set in Append only bounds an idle
// session, not one that keeps appending past the window; nothing in this
// package schedules Sweep, so it runs only when a caller invokes it.
func (b *BufferStore) Sweep(ctx context.Context, sessionID string, now time.Time) error {
	cutoff := now.Add(-b.ttl).Unix()
	key := bufferKey(sessionID)
	if err := b.client.ZRemRangeByScore(ctx, key, "-inf", formatScore(cutoff)).Err(); err != nil {
		return sharederrors.FailedToWithDetails("sweep buffer", "redis", sessionID, err)
	}
	return nil
}

func formatScore(epoch int64) string {
	return strconv.FormatInt(epoch, 10)
}
