package exchange

import (
	"context"
	"errors"

	"github.com/stashfi/starmf/internal/credentials"
	"github.com/stashfi/starmf/internal/exchange/protocol"
	"github.com/stashfi/starmf/pkg/config"
	"github.com/stashfi/starmf/pkg/logger"
	"github.com/stashfi/starmf/pkg/redis"
)

// ErrOrderRejected indicates the gateway accepted the request but
// rejected the order for a business reason. Rejections are final: the
// order reached the exchange and must not be retried automatically.
type ErrOrderRejected struct {
	Code    string
	Message string
}

func (e *ErrOrderRejected) Error() string {
	return "order rejected by exchange: " + e.Message
}

// ErrAuthenticationFailed indicates the gateway declined a session
// token request for an advisor's credentials.
var ErrAuthenticationFailed = errors.New("exchange authentication failed")

// SubmitResult is the gateway's answer to an accepted order entry.
// Code and Message are the gateway's own response fields and are
// persisted with the order; OrderNumber may be empty when the gateway
// assigns none in the immediate response.
type SubmitResult struct {
	OrderNumber string
	Code        string
	Message     string
}

// OrderStatusInfo is one order's state as reported by the gateway's
// status query endpoint.
type OrderStatusInfo struct {
	OrderNumber    string
	Status         string
	AllottedUnits  *float64
	AllottedNAV    *float64
	AllottedAmount *float64
}

// Gateway is the exchange order-entry surface. Exactly one
// implementation is selected at startup; callers never branch on mode.
type Gateway interface {
	// SubmitOrder sends an order-entry request and returns the
	// gateway's result. A business rejection returns *ErrOrderRejected;
	// transport and parse failures return other errors.
	SubmitOrder(ctx context.Context, params protocol.OrderEntryParams) (SubmitResult, error)

	// Authenticate exchanges advisor credentials for a session token.
	Authenticate(ctx context.Context, creds credentials.Credentials) (string, error)

	// QueryOrderStatus fetches current gateway-side state for a batch
	// of order numbers belonging to one member.
	QueryOrderStatus(ctx context.Context, memberID string, orderNumbers []string) ([]OrderStatusInfo, error)
}

// NewGateway selects the live or mock implementation once, from
// configuration. The rest of the system is mode-blind.
func NewGateway(cfg *config.Config, log *logger.Logger, limiter *redis.RateLimiter) Gateway {
	if cfg.BSE.MockMode {
		log.Warn("Exchange gateway running in mock mode; no orders will reach the exchange")
		return NewMockGateway(log)
	}
	return NewLiveGateway(cfg, log, limiter)
}
