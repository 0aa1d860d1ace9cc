package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"shortsq/internal/domain"
	"shortsq/internal/ports"
	"shortsq/internal/registry"
)

var _ ports.Registry = (*Registry)(nil)

const maxTxRetries = 100

// Registry stores each task as a hash under <prefix>:<id> and keeps
// insertion order in the <prefix>:index sorted set.
type Registry struct {
	C      *Client
	Prefix string
	now    func() time.Time
}

func NewRegistry(c *Client, prefix string) *Registry {
	return &Registry{C: c, Prefix: prefix, now: time.Now}
}

func (r *Registry) key(id string) string { return fmt.Sprintf("%s:%s", r.Prefix, id) }
func (r *Registry) indexKey() string     { return r.Prefix + ":index" }
func (r *Registry) seqKey() string       { return r.Prefix + ":seq" }

func (r *Registry) Create(ctx context.Context, id, requestID string) (domain.Task, error) {
	t := domain.NewTask(id, requestID, r.now())
	key := r.key(id)

	err := r.retry(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrTaskExists
		}
		seq, err := tx.Incr(ctx, r.seqKey()).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, encodeTask(t))
			p.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(seq), Member: id})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (r *Registry) Update(ctx context.Context, id string, u domain.TaskUpdate) (domain.Task, error) {
	key := r.key(id)
	var out domain.Task

	err := r.retry(ctx, func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(h) == 0 {
			return domain.ErrTaskNotFound
		}
		t, err := decodeTask(id, h)
		if err != nil {
			return err
		}
		out = t
		if err := t.Apply(u, r.now()); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, encodeTask(t))
			return nil
		})
		if err == nil {
			out = t
		}
		return err
	}, key)
	return out, err
}

func (r *Registry) Get(ctx context.Context, id string) (domain.Task, error) {
	h, err := r.C.Rdb.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return domain.Task{}, err
	}
	if len(h) == 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return decodeTask(id, h)
}

func (r *Registry) List(ctx context.Context, page, pageSize int) ([]domain.Task, int, error) {
	total, err := r.C.Rdb.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, 0, err
	}
	start, end := registry.Window(page, pageSize, int(total))
	if start == end {
		return []domain.Task{}, int(total), nil
	}
	ids, err := r.C.Rdb.ZRange(ctx, r.indexKey(), int64(start), int64(end-1)).Result()
	if err != nil {
		return nil, 0, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.C.Rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, r.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	tasks := make([]domain.Task, 0, len(ids))
	for i, id := range ids {
		h := cmds[i].Val()
		if len(h) == 0 {
			continue
		}
		t, err := decodeTask(id, h)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, int(total), nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	_, err := r.C.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.key(id))
		p.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	return err
}

// retry runs fn under WATCH on keys until the transaction commits.
func (r *Registry) retry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.C.Rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis transaction on %v: %w", keys, redis.TxFailedErr)
}

func encodeTask(t domain.Task) map[string]any {
	return map[string]any{
		"request_id":      t.RequestID,
		"status":          string(t.Status),
		"progress":        t.Progress,
		"script":          t.Script,
		"terms":           encodeList(t.Terms),
		"audio_file":      t.AudioFile,
		"audio_duration":  t.AudioDuration,
		"subtitle_path":   t.SubtitlePath,
		"materials":       encodeList(t.Materials),
		"videos":          encodeList(t.Videos),
		"combined_videos": encodeList(t.CombinedVideos),
		"created_at":      t.CreatedAt.UnixMilli(),
		"updated_at":      t.UpdatedAt.UnixMilli(),
	}
}

func decodeTask(id string, h map[string]string) (domain.Task, error) {
	t := domain.Task{
		ID:           id,
		RequestID:    h["request_id"],
		Status:       domain.TaskStatus(h["status"]),
		Script:       h["script"],
		AudioFile:    h["audio_file"],
		SubtitlePath: h["subtitle_path"],
	}
	var err error
	if t.Progress, err = parseFloat(h["progress"]); err != nil {
		return t, fmt.Errorf("task %s progress: %w", id, err)
	}
	if t.AudioDuration, err = parseFloat(h["audio_duration"]); err != nil {
		return t, fmt.Errorf("task %s audio duration: %w", id, err)
	}
	for field, dst := range map[string]*[]string{
		"terms":           &t.Terms,
		"materials":       &t.Materials,
		"videos":          &t.Videos,
		"combined_videos": &t.CombinedVideos,
	} {
		if *dst, err = decodeList(h[field]); err != nil {
			return t, fmt.Errorf("task %s %s: %w", id, field, err)
		}
	}
	t.CreatedAt = parseMillis(h["created_at"])
	t.UpdatedAt = parseMillis(h["updated_at"])
	return t, nil
}

func encodeList(v []string) string {
	if v == nil {
		return ""
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var v []string
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
