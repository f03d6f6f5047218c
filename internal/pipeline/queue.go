package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stashfi/starmf/pkg/database"
)

// Job statuses in the submission queue.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobDone       = "done"
	JobFailed     = "failed"
)

// Job is one queued submission attempt for an order.
type Job struct {
	ID          int64
	OrderID     string
	Attempts    int
	MaxAttempts int
}

// Queue is a durable submission queue backed by Postgres. Dequeue
// claims jobs with SKIP LOCKED so any number of workers can poll the
// same table without handing out a job twice.
type Queue struct {
	db *database.DB
}

// NewQueue creates the submission queue.
func NewQueue(db *database.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue adds a submission job for an order.
func (q *Queue) Enqueue(ctx context.Context, orderID string, maxAttempts int) error {
	_, err := q.db.Pool.Exec(ctx, `
		INSERT INTO exchange.submission_jobs (order_id, status, max_attempts, run_at)
		VALUES ($1, $2, $3, NOW())`,
		orderID, JobQueued, maxAttempts,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue submission job: %w", err)
	}
	return nil
}

// Dequeue claims the oldest runnable job, marking it processing and
// bumping its attempt count. Returns nil when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	row := q.db.Pool.QueryRow(ctx, `
		UPDATE exchange.submission_jobs
		SET status = $1, attempts = attempts + 1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM exchange.submission_jobs
			WHERE status = $2 AND run_at <= NOW()
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, order_id, attempts, max_attempts`,
		JobProcessing, JobQueued,
	)

	var job Job
	if err := row.Scan(&job.ID, &job.OrderID, &job.Attempts, &job.MaxAttempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue submission job: %w", err)
	}

	return &job, nil
}

// MarkDone completes a job.
func (q *Queue) MarkDone(ctx context.Context, jobID int64) error {
	_, err := q.db.Pool.Exec(ctx, `
		UPDATE exchange.submission_jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2`,
		JobDone, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}
	return nil
}

// MarkFailed finishes a job permanently with its final error.
func (q *Queue) MarkFailed(ctx context.Context, jobID int64, reason string) error {
	_, err := q.db.Pool.Exec(ctx, `
		UPDATE exchange.submission_jobs
		SET status = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3`,
		JobFailed, reason, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// Retry reschedules a job after a transient error, or fails it when
// attempts are exhausted. Returns true if the job will run again.
func (q *Queue) Retry(ctx context.Context, job *Job, backoff time.Duration, reason string) (bool, error) {
	if job.Attempts >= job.MaxAttempts {
		if err := q.MarkFailed(ctx, job.ID, reason); err != nil {
			return false, err
		}
		return false, nil
	}

	// Linear per-attempt backoff.
	delay := backoff * time.Duration(job.Attempts)

	_, err := q.db.Pool.Exec(ctx, `
		UPDATE exchange.submission_jobs
		SET status = $1, last_error = $2, run_at = NOW() + make_interval(secs => $3), updated_at = NOW()
		WHERE id = $4`,
		JobQueued, reason, delay.Seconds(), job.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule job: %w", err)
	}

	return true, nil
}

// Stats summarizes queue depth by status.
type Stats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Done       int64 `json:"done"`
	Failed     int64 `json:"failed"`
}

// Stats returns current queue depth by status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.Pool.Query(ctx, `
		SELECT status, COUNT(*) FROM exchange.submission_jobs GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		switch status {
		case JobQueued:
			stats.Queued = count
		case JobProcessing:
			stats.Processing = count
		case JobDone:
			stats.Done = count
		case JobFailed:
			stats.Failed = count
		}
	}

	return stats, rows.Err()
}

// Prune deletes finished jobs older than the given ages. Returns the
// number of rows removed.
func (q *Queue) Prune(ctx context.Context, doneAge, failedAge time.Duration) (int64, error) {
	tag, err := q.db.Pool.Exec(ctx, `
		DELETE FROM exchange.submission_jobs
		WHERE (status = $1 AND updated_at < NOW() - make_interval(secs => $2))
		   OR (status = $3 AND updated_at < NOW() - make_interval(secs => $4))`,
		JobDone, doneAge.Seconds(), JobFailed, failedAge.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune submission jobs: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ReleaseStuck requeues jobs stuck in processing longer than the given
// age, typically after a worker crash.
func (q *Queue) ReleaseStuck(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := q.db.Pool.Exec(ctx, `
		UPDATE exchange.submission_jobs
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < NOW() - make_interval(secs => $3)`,
		JobQueued, JobProcessing, age.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck jobs: %w", err)
	}

	return tag.RowsAffected(), nil
}
