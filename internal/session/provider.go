package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stashfi/starmf/internal/credentials"
	"github.com/stashfi/starmf/pkg/logger"
)

// Authenticator exchanges advisor credentials for a session token.
// Satisfied by the exchange gateway.
type Authenticator interface {
	Authenticate(ctx context.Context, creds credentials.Credentials) (string, error)
}

// CredentialSource loads an advisor's gateway credentials.
type CredentialSource interface {
	Get(ctx context.Context, advisorID string) (credentials.Credentials, error)
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Provider caches session tokens per advisor and refreshes them on
// demand. Concurrent refreshes for the same advisor collapse into a
// single gateway call; tokens are considered expired a skew interval
// before their actual expiry so in-flight requests never carry a token
// that dies mid-request.
type Provider struct {
	auth   Authenticator
	creds  CredentialSource
	logger *logger.Logger

	ttl  time.Duration
	skew time.Duration

	mu     sync.RWMutex
	tokens map[string]cachedToken
	group  singleflight.Group
}

// NewProvider creates a session token provider.
func NewProvider(auth Authenticator, creds CredentialSource, log *logger.Logger, ttl, skew time.Duration) *Provider {
	return &Provider{
		auth:   auth,
		creds:  creds,
		logger: log,
		ttl:    ttl,
		skew:   skew,
		tokens: make(map[string]cachedToken),
	}
}

// Token returns a valid session token for the advisor, refreshing it
// from the gateway when the cached one is absent or near expiry.
func (p *Provider) Token(ctx context.Context, advisorID string) (string, error) {
	p.mu.RLock()
	cached, ok := p.tokens[advisorID]
	p.mu.RUnlock()

	if ok && p.fresh(cached) {
		return cached.token, nil
	}

	return p.refresh(ctx, advisorID)
}

// Invalidate drops the cached token for an advisor. Called when the
// gateway reports the token as stale.
func (p *Provider) Invalidate(advisorID string) {
	p.mu.Lock()
	delete(p.tokens, advisorID)
	p.mu.Unlock()
}

// RefreshExpiring refreshes tokens that will expire within the skew
// window. Used by the scheduled refresh job to keep tokens warm for
// advisors with orders in flight.
func (p *Provider) RefreshExpiring(ctx context.Context, advisorIDs []string) {
	for _, id := range advisorIDs {
		p.mu.RLock()
		cached, ok := p.tokens[id]
		p.mu.RUnlock()

		if ok && p.fresh(cached) {
			continue
		}

		if _, err := p.refresh(ctx, id); err != nil {
			p.logger.WithError(err).WithField("advisor_id", id).Warn("Failed to refresh session token")
		}
	}
}

// PurgeExpired removes tokens past their expiry so the cache does not
// grow without bound. Returns the number purged.
func (p *Provider) PurgeExpired() int {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	purged := 0
	for id, cached := range p.tokens {
		if now.After(cached.expiresAt) {
			delete(p.tokens, id)
			purged++
		}
	}
	return purged
}

func (p *Provider) fresh(cached cachedToken) bool {
	return time.Now().Add(p.skew).Before(cached.expiresAt)
}

func (p *Provider) refresh(ctx context.Context, advisorID string) (string, error) {
	token, err, _ := p.group.Do(advisorID, func() (interface{}, error) {
		// Another caller may have refreshed while we waited on the
		// flight group.
		p.mu.RLock()
		cached, ok := p.tokens[advisorID]
		p.mu.RUnlock()
		if ok && p.fresh(cached) {
			return cached.token, nil
		}

		// The flight's outcome is shared by every waiter, so the
		// refresh must survive the winning caller's cancellation. The
		// gateway client carries its own request timeout.
		flightCtx := context.WithoutCancel(ctx)

		creds, err := p.creds.Get(flightCtx, advisorID)
		if err != nil {
			return "", err
		}

		fresh, err := p.auth.Authenticate(flightCtx, creds)
		if err != nil {
			return "", err
		}

		p.mu.Lock()
		p.tokens[advisorID] = cachedToken{
			token:     fresh,
			expiresAt: time.Now().Add(p.ttl),
		}
		p.mu.Unlock()

		p.logger.WithField("advisor_id", advisorID).Debug("Session token refreshed")
		return fresh, nil
	})
	if err != nil {
		return "", err
	}

	return token.(string), nil
}
