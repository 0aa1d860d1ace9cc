package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"shortsq/internal/ports"
)

var _ ports.Queue = (*ListQueue)(nil)

// ListQueue is the durable FIFO backend: RPUSH to enqueue, LPOP to dequeue.
// Entries that no longer decode are moved to the dead-letter list.
type ListQueue struct {
	C          *Client
	Key        string
	DeadLetter string
}

func NewListQueue(c *Client, key, deadLetter string) *ListQueue {
	return &ListQueue{C: c, Key: key, DeadLetter: deadLetter}
}

func (q *ListQueue) Push(ctx context.Context, item ports.WorkItem) error {
	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}
	return q.C.Rdb.RPush(ctx, q.Key, b).Err()
}

func (q *ListQueue) Pop(ctx context.Context) (ports.WorkItem, bool, error) {
	for {
		raw, err := q.C.Rdb.LPop(ctx, q.Key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ports.WorkItem{}, false, nil
		}
		if err != nil {
			return ports.WorkItem{}, false, err
		}

		var item ports.WorkItem
		if err := json.Unmarshal(raw, &item); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("queue", q.Key).Msg("moving undecodable work item to dead letter list")
			if err := q.C.Rdb.RPush(ctx, q.DeadLetter, raw).Err(); err != nil {
				return ports.WorkItem{}, false, fmt.Errorf("dead-letter work item: %w", err)
			}
			continue
		}
		return item, true, nil
	}
}

func (q *ListQueue) IsEmpty(ctx context.Context) (bool, error) {
	n, err := q.Len(ctx)
	return n == 0, err
}

func (q *ListQueue) Len(ctx context.Context) (int, error) {
	n, err := q.C.Rdb.LLen(ctx, q.Key).Result()
	return int(n), err
}
