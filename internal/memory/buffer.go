// Package memory holds the ephemeral conversation window: a bounded,
// TTL'd Redis buffer for fast reads, backed by the durable day logs in
// internal/memlog. Losing the buffer loses nothing — it is rebuilt from
// the logs on the next read.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

// RedisBuffer keeps the last N turns of each conversation in a Redis
// list, with a companion counter key for sequence allocation.
type RedisBuffer struct {
	rdb  *redis.Client
	size int
	ttl  time.Duration
}

func NewRedisBuffer(rdb *redis.Client, cfg config.MemoryConfig) *RedisBuffer {
	return &RedisBuffer{
		rdb:  rdb,
		size: cfg.BufferSize,
		ttl:  time.Duration(cfg.BufferTTLSecs) * time.Second,
	}
}

func bufferKey(convID string) string { return "buffer:" + convID }
func seqKey(convID string) string    { return "buffer:" + convID + ":seq" }

// Append pushes a turn onto the window, trims to capacity, and refreshes
// the TTL — one pipelined round trip.
func (b *RedisBuffer) Append(ctx context.Context, turn models.ConversationTurn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	key := bufferKey(turn.ConvID)
	pipe := b.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-b.size), -1)
	pipe.Expire(ctx, key, b.ttl)
	pipe.Expire(ctx, seqKey(turn.ConvID), b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	return nil
}

// Recent returns the buffered window, oldest first. Corrupt entries are
// dropped rather than failing the read.
func (b *RedisBuffer) Recent(ctx context.Context, convID string) ([]models.ConversationTurn, error) {
	lines, err := b.rdb.LRange(ctx, bufferKey(convID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	out := make([]models.ConversationTurn, 0, len(lines))
	for _, line := range lines {
		var t models.ConversationTurn
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// NextSeq atomically allocates the next per-conversation sequence number.
func (b *RedisBuffer) NextSeq(ctx context.Context, convID string) (int64, error) {
	seq, err := b.rdb.Incr(ctx, seqKey(convID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	return seq, nil
}

// SetSeq raises the counter to at least seq so turns appended after a
// backfill continue the log's numbering instead of restarting at 1.
func (b *RedisBuffer) SetSeq(ctx context.Context, convID string, seq int64) error {
	key := seqKey(convID)
	cur, err := b.rdb.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	if seq <= cur {
		return nil
	}
	if err := b.rdb.Set(ctx, key, seq, b.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	return nil
}
