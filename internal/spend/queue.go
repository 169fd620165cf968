// Package spend settles metered usage: a durable KV-backed queue on the hot
// path and a leased worker that batches costs into budgets and the
// analytical store.
package spend

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/modelrelay/modelrelay/internal/usage"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// queueKey is the durable FIFO of encoded usage records.
	queueKey = "spend:queue"
	// lockKey is the drain lease shared across replicas.
	lockKey = "spend:lock"
)

// Queue is the durable usage-record FIFO in the shared KV store.
type Queue struct {
	rdb *redis.Client
}

// NewQueue constructs a Queue.
func NewQueue(rdb *redis.Client) *Queue { return &Queue{rdb: rdb} }

// Enqueue pushes one record. Callers treat failures as best-effort: a lost
// record never fails the request it metered.
func (q *Queue) Enqueue(ctx context.Context, record *usage.Record) error {
	encoded, errEncode := encodeRecord(record)
	if errEncode != nil {
		return errEncode
	}
	if errPush := q.rdb.LPush(ctx, queueKey, encoded).Err(); errPush != nil {
		return fmt.Errorf("spend: enqueue: %w", errPush)
	}
	return nil
}

// Len returns the queue depth.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, queueKey).Result()
}

// encodeRecord serializes a record as base64-wrapped MessagePack.
func encodeRecord(record *usage.Record) (string, error) {
	packed, errMarshal := msgpack.Marshal(record)
	if errMarshal != nil {
		return "", fmt.Errorf("spend: encode record: %w", errMarshal)
	}
	return base64.StdEncoding.EncodeToString(packed), nil
}

// decodeRecord reverses encodeRecord.
func decodeRecord(encoded string) (*usage.Record, error) {
	packed, errDecode := base64.StdEncoding.DecodeString(encoded)
	if errDecode != nil {
		return nil, fmt.Errorf("spend: decode record: %w", errDecode)
	}
	var record usage.Record
	if errUnmarshal := msgpack.Unmarshal(packed, &record); errUnmarshal != nil {
		return nil, fmt.Errorf("spend: unmarshal record: %w", errUnmarshal)
	}
	return &record, nil
}
