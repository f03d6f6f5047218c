package jobs

import (
	"context"
	"time"

	"github.com/stashfi/starmf/internal/pipeline"
	"github.com/stashfi/starmf/pkg/logger"
	"github.com/stashfi/starmf/pkg/redis"
)

// QueueMaintenance prunes settled submission jobs and requeues jobs
// orphaned by worker crashes. Runs daily at midnight.
type QueueMaintenance struct {
	queue  *pipeline.Queue
	lock   *redis.Lock
	logger *logger.Logger
}

// NewQueueMaintenance creates the queue maintenance job.
func NewQueueMaintenance(queue *pipeline.Queue, lock *redis.Lock, log *logger.Logger) *QueueMaintenance {
	return &QueueMaintenance{queue: queue, lock: lock, logger: log}
}

func (j *QueueMaintenance) Name() string { return "queue-maintenance" }

func (j *QueueMaintenance) Schedule() string { return "0 0 0 * * *" }

func (j *QueueMaintenance) Run(ctx context.Context) error {
	acquired, err := j.lock.Acquire(ctx, j.Name(), 10*time.Minute)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer j.lock.Release(ctx, j.Name())

	released, err := j.queue.ReleaseStuck(ctx, time.Hour)
	if err != nil {
		return err
	}

	pruned, err := j.queue.Prune(ctx, 24*time.Hour, 7*24*time.Hour)
	if err != nil {
		return err
	}

	j.logger.WithFields(map[string]interface{}{
		"released": released,
		"pruned":   pruned,
	}).Info("Queue maintenance finished")

	return nil
}
