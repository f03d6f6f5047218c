package jobs

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/stashfi/starmf/internal/exchange"
	"github.com/stashfi/starmf/internal/orders"
	"github.com/stashfi/starmf/pkg/logger"
	"github.com/stashfi/starmf/pkg/redis"
)

// StatusStore is the slice of the order repository the poll job needs.
type StatusStore interface {
	ListPollable(ctx context.Context, maxAge time.Duration, limit int) ([]orders.PollableOrder, error)
	ApplyGatewayStatus(ctx context.Context, gatewayOrderNumber string, status orders.Status, units, nav, amount *float64) (bool, error)
	GetClientByOrderNumber(ctx context.Context, gatewayOrderNumber string) (orders.Client, error)
}

// ViewInvalidator drops cached views after a status change.
type ViewInvalidator interface {
	InvalidateOrderViews(ctx context.Context, clientUserID, advisorID string)
}

// OrderStatusPoll reconciles submitted orders against the exchange's
// status feed every fifteen minutes. Batches are grouped per member
// and paced with a rate limiter so a large backlog cannot hammer the
// gateway.
type OrderStatusPoll struct {
	store       StatusStore
	gateway     exchange.Gateway
	invalidator ViewInvalidator
	lock        *redis.Lock
	limiter     *rate.Limiter
	logger      *logger.Logger

	maxAge    time.Duration
	batchSize int
}

// NewOrderStatusPoll creates the status poll job.
func NewOrderStatusPoll(store StatusStore, gateway exchange.Gateway, invalidator ViewInvalidator, lock *redis.Lock, log *logger.Logger) *OrderStatusPoll {
	return &OrderStatusPoll{
		store:       store,
		gateway:     gateway,
		invalidator: invalidator,
		lock:        lock,
		// One status batch per second, small burst.
		limiter:   rate.NewLimiter(rate.Limit(1), 2),
		logger:    log,
		maxAge:    7 * 24 * time.Hour,
		batchSize: 500,
	}
}

func (j *OrderStatusPoll) Name() string { return "order-status-poll" }

func (j *OrderStatusPoll) Schedule() string { return "0 */15 * * * *" }

// statusByGateway maps the feed's status strings onto local order
// states. Unknown strings are skipped rather than guessed at.
var statusByGateway = map[string]orders.Status{
	"ACCEPTED":  orders.StatusAccepted,
	"ALLOTTED":  orders.StatusAllotted,
	"REJECTED":  orders.StatusRejected,
	"CANCELLED": orders.StatusCancelled,
	"FAILED":    orders.StatusFailed,
}

func (j *OrderStatusPoll) Run(ctx context.Context) error {
	acquired, err := j.lock.Acquire(ctx, j.Name(), 10*time.Minute)
	if err != nil {
		return err
	}
	if !acquired {
		j.logger.Debug("Order status poll running elsewhere; skipping")
		return nil
	}
	defer j.lock.Release(ctx, j.Name())

	pollable, err := j.store.ListPollable(ctx, j.maxAge, j.batchSize)
	if err != nil {
		return err
	}
	if len(pollable) == 0 {
		return nil
	}

	// Group order numbers per member; the feed is queried per member
	// account.
	byMember := make(map[string][]string)
	for _, p := range pollable {
		byMember[p.MemberID] = append(byMember[p.MemberID], p.GatewayOrderNumber)
	}

	updated := 0
	for memberID, orderNumbers := range byMember {
		if err := j.limiter.Wait(ctx); err != nil {
			return err
		}

		infos, err := j.gateway.QueryOrderStatus(ctx, memberID, orderNumbers)
		if err != nil {
			j.logger.WithError(err).WithField("member_id", memberID).Warn("Order status query failed")
			continue
		}

		for _, info := range infos {
			status, known := statusByGateway[strings.ToUpper(info.Status)]
			if !known {
				j.logger.WithFields(map[string]interface{}{
					"order_number": info.OrderNumber,
					"status":       info.Status,
				}).Warn("Unknown gateway order status")
				continue
			}

			applied, err := j.store.ApplyGatewayStatus(ctx, info.OrderNumber, status,
				info.AllottedUnits, info.AllottedNAV, info.AllottedAmount)
			if err != nil {
				j.logger.WithError(err).WithField("order_number", info.OrderNumber).Error("Failed to apply gateway status")
				continue
			}
			if !applied {
				continue
			}

			updated++
			if client, err := j.store.GetClientByOrderNumber(ctx, info.OrderNumber); err == nil {
				j.invalidator.InvalidateOrderViews(ctx, client.UserID, client.AdvisorID)
			}
		}
	}

	j.logger.WithFields(map[string]interface{}{
		"polled":  len(pollable),
		"updated": updated,
	}).Info("Order status poll finished")

	return nil
}
