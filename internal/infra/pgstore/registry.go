package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shortsq/internal/domain"
	"shortsq/internal/ports"
	"shortsq/internal/registry"
)

var _ ports.Registry = (*Registry)(nil)

// Registry keeps tasks in the tasks table. Updates lock the row so the
// read-apply-write cycle is atomic per task.
type Registry struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool, now: time.Now}
}

const taskColumns = `id, request_id, status, progress, script, terms, audio_file, audio_duration,
	subtitle_path, materials, videos, combined_videos, created_at, updated_at`

func (r *Registry) Create(ctx context.Context, id, requestID string) (domain.Task, error) {
	t := domain.NewTask(id, requestID, r.now().UTC())
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (id, request_id, status, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.RequestID, string(t.Status), t.Progress, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Task{}, domain.ErrTaskExists
	}
	return t, nil
}

func (r *Registry) Update(ctx context.Context, id string, u domain.TaskUpdate) (domain.Task, error) {
	var out domain.Task
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		out = t
		if err := t.Apply(u, r.now().UTC()); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE tasks SET status = $2, progress = $3, script = $4, terms = $5, audio_file = $6,
				audio_duration = $7, subtitle_path = $8, materials = $9, videos = $10,
				combined_videos = $11, updated_at = $12
			WHERE id = $1`,
			t.ID, string(t.Status), t.Progress, t.Script, t.Terms, t.AudioFile,
			t.AudioDuration, t.SubtitlePath, t.Materials, t.Videos,
			t.CombinedVideos, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		out = t
		return nil
	})
	return out, err
}

func (r *Registry) Get(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

func (r *Registry) List(ctx context.Context, page, pageSize int) ([]domain.Task, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM tasks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	start, end := registry.Window(page, pageSize, total)
	if start == end {
		return []domain.Task{}, total, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY seq ASC LIMIT $1 OFFSET $2`,
		end-start, start)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0, end-start)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, total, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		t      domain.Task
		status string
	)
	err := row.Scan(
		&t.ID,
		&t.RequestID,
		&status,
		&t.Progress,
		&t.Script,
		&t.Terms,
		&t.AudioFile,
		&t.AudioDuration,
		&t.SubtitlePath,
		&t.Materials,
		&t.Videos,
		&t.CombinedVideos,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("scan task: %w", err)
	}
	t.Status = domain.TaskStatus(status)
	return t, nil
}
