package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/internal/pkg/metrics"
)

const pendingKey = "usage:pending"

// PendingBuffer holds usage entries that could not be written to the ledger.
// Entries keep their UUID so a replay never counts twice.
type PendingBuffer struct {
	rdb *redis.Client
	key string
}

func NewPendingBuffer(rdb *redis.Client) *PendingBuffer {
	return &PendingBuffer{rdb: rdb, key: pendingKey}
}

func (b *PendingBuffer) Push(ctx context.Context, entry models.UsageLogEntry) error {
	if entry.UUID == "" {
		return errors.New("usage: pending entry without uuid")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.rdb.RPush(ctx, b.key, data).Err()
}

func (b *PendingBuffer) Len(ctx context.Context) (int64, error) {
	return b.rdb.LLen(ctx, b.key).Result()
}

// Drain moves up to max buffered entries into the ledger, oldest first. It
// stops at the first ledger error and puts that entry back at the head.
func (b *PendingBuffer) Drain(ctx context.Context, ledger Ledger, max int) (int, error) {
	moved := 0
	for moved < max {
		raw, err := b.rdb.LPop(ctx, b.key).Bytes()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, err
		}

		var entry models.UsageLogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.Errorf("[Usage] discarding undecodable pending entry: %v", err)
			continue
		}
		if err := ledger.Append(ctx, &entry); err != nil {
			if perr := b.rdb.LPush(ctx, b.key, raw).Err(); perr != nil {
				return moved, fmt.Errorf("requeue pending entry %s: %w (append: %v)", entry.UUID, perr, err)
			}
			return moved, err
		}
		moved++
	}

	if n, err := b.Len(ctx); err == nil {
		metrics.SetPendingUsage(n)
	}
	return moved, nil
}
