package jobs

import (
	"context"
	"time"

	"github.com/stashfi/starmf/internal/session"
	"github.com/stashfi/starmf/pkg/logger"
	"github.com/stashfi/starmf/pkg/redis"
)

// AdvisorLister yields every advisor with exchange credentials on file.
type AdvisorLister interface {
	ListAdvisorIDs(ctx context.Context) ([]string, error)
}

// SessionRefresh keeps session tokens warm so order submissions rarely
// pay the authentication round trip. Runs every five minutes; a
// distributed lock ensures one instance does the work.
type SessionRefresh struct {
	provider *session.Provider
	advisors AdvisorLister
	lock     *redis.Lock
	logger   *logger.Logger
}

// NewSessionRefresh creates the session refresh job.
func NewSessionRefresh(provider *session.Provider, advisors AdvisorLister, lock *redis.Lock, log *logger.Logger) *SessionRefresh {
	return &SessionRefresh{
		provider: provider,
		advisors: advisors,
		lock:     lock,
		logger:   log,
	}
}

func (j *SessionRefresh) Name() string { return "session-refresh" }

func (j *SessionRefresh) Schedule() string { return "0 */5 * * * *" }

func (j *SessionRefresh) Run(ctx context.Context) error {
	acquired, err := j.lock.Acquire(ctx, j.Name(), 4*time.Minute)
	if err != nil {
		return err
	}
	if !acquired {
		j.logger.Debug("Session refresh running elsewhere; skipping")
		return nil
	}
	defer j.lock.Release(ctx, j.Name())

	advisorIDs, err := j.advisors.ListAdvisorIDs(ctx)
	if err != nil {
		return err
	}

	j.provider.RefreshExpiring(ctx, advisorIDs)

	if purged := j.provider.PurgeExpired(); purged > 0 {
		j.logger.WithField("purged", purged).Debug("Purged expired session tokens")
	}

	return nil
}
