package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stashfi/starmf/internal/credentials"
	"github.com/stashfi/starmf/internal/exchange"
	"github.com/stashfi/starmf/internal/exchange/protocol"
	"github.com/stashfi/starmf/internal/metrics"
	"github.com/stashfi/starmf/internal/orders"
	"github.com/stashfi/starmf/pkg/config"
	"github.com/stashfi/starmf/pkg/logger"
)

// OrderStore is the slice of the order repository the consumer needs.
type OrderStore interface {
	Get(ctx context.Context, id string) (orders.Order, error)
	MarkSubmitted(ctx context.Context, id, gatewayOrderNumber, code, message string) (bool, error)
	MarkRejected(ctx context.Context, id, code, message string) (bool, error)
	MarkFailedIfCreated(ctx context.Context, id, reason string) (bool, error)
	GetClient(ctx context.Context, orderID string) (orders.Client, error)
}

// TokenSource yields a valid session token for an advisor.
type TokenSource interface {
	Token(ctx context.Context, advisorID string) (string, error)
}

// CredentialSource loads an advisor's gateway credentials.
type CredentialSource interface {
	Get(ctx context.Context, advisorID string) (credentials.Credentials, error)
}

// Invalidator drops cached read-side views after a state change.
type Invalidator interface {
	InvalidateOrderViews(ctx context.Context, clientUserID, advisorID string)
}

// JobQueue is the slice of the durable queue the consumer needs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*Job, error)
	MarkDone(ctx context.Context, jobID int64) error
	MarkFailed(ctx context.Context, jobID int64, reason string) error
	Retry(ctx context.Context, job *Job, backoff time.Duration, reason string) (bool, error)
}

// Consumer drains the submission queue with a fixed pool of workers.
// Each job runs one order through the submission state machine; all
// writes out of CREATED are conditional, so a job that observes a
// stale order is a harmless no-op.
type Consumer struct {
	queue       JobQueue
	store       OrderStore
	tokens      TokenSource
	creds       CredentialSource
	gateway     exchange.Gateway
	invalidator Invalidator
	metrics     *metrics.Metrics
	logger      *logger.Logger

	concurrency    int
	pollInterval   time.Duration
	retryBackoff   time.Duration
	requestTimeout time.Duration
}

// NewConsumer wires the submission consumer.
func NewConsumer(
	cfg *config.Config,
	queue JobQueue,
	store OrderStore,
	tokens TokenSource,
	creds CredentialSource,
	gateway exchange.Gateway,
	invalidator Invalidator,
	m *metrics.Metrics,
	log *logger.Logger,
) *Consumer {
	return &Consumer{
		queue:          queue,
		store:          store,
		tokens:         tokens,
		creds:          creds,
		gateway:        gateway,
		invalidator:    invalidator,
		metrics:        m,
		logger:         log,
		concurrency:    cfg.Pipeline.Concurrency,
		pollInterval:   cfg.Pipeline.PollInterval,
		retryBackoff:   cfg.Pipeline.RetryBackoff,
		requestTimeout: cfg.BSE.RequestTimeout,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// in-flight jobs finish.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.WithField("concurrency", c.concurrency).Info("Submission consumer starting")

	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.workerLoop(ctx, worker)
		}(i)
	}

	wg.Wait()
	c.logger.Info("Submission consumer stopped")
}

func (c *Consumer) workerLoop(ctx context.Context, worker int) {
	log := c.logger.WithField("worker", worker)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := c.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Failed to dequeue submission job")
			c.sleep(ctx, c.pollInterval)
			continue
		}
		if job == nil {
			c.sleep(ctx, c.pollInterval)
			continue
		}

		c.handleJob(ctx, job)
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// transientError marks a fault that happened before the order record
// could be read, so no terminal write was attempted and a retry is
// meaningful. Faults past that point settle the order and finalize the
// job instead.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// handleJob runs one submission attempt and settles the job according
// to the outcome: done on success or a no-op, retried when the order
// could not even be read, failed otherwise. Rejections and faults have
// already settled the order record inside processOrder.
func (c *Consumer) handleJob(ctx context.Context, job *Job) {
	if c.metrics != nil {
		c.metrics.WorkersBusy.Inc()
		defer c.metrics.WorkersBusy.Dec()
	}

	log := c.logger.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"order_id": job.OrderID,
		"attempt":  job.Attempts,
	})

	err := c.processOrder(ctx, job.OrderID)
	if err == nil {
		if err := c.queue.MarkDone(ctx, job.ID); err != nil {
			log.WithError(err).Error("Failed to complete submission job")
		}
		return
	}

	// A rejection is a final business outcome: the order record already
	// reflects it and the job must not run again. Resubmitting the same
	// reference number would be a duplicate-submission risk.
	var rejected *exchange.ErrOrderRejected
	if errors.As(err, &rejected) {
		log.WithField("reason", rejected.Message).Warn("Order rejected; job finished")
		if err := c.queue.MarkFailed(ctx, job.ID, rejected.Error()); err != nil {
			log.WithError(err).Error("Failed to finalize rejected job")
		}
		return
	}

	// The order could not be read at all; nothing was written, so a
	// retry can still submit it.
	var transient *transientError
	if errors.As(err, &transient) {
		log.WithError(err).Warn("Submission attempt failed before processing")
		retrying, qerr := c.queue.Retry(ctx, job, c.retryBackoff, err.Error())
		if qerr != nil {
			log.WithError(qerr).Error("Failed to reschedule submission job")
			return
		}
		if !retrying {
			log.Error("Submission attempts exhausted")
			// Settle the order so it does not linger as pending forever.
			c.failOrder(ctx, job.OrderID, "submission attempts exhausted: "+err.Error())
		}
		return
	}

	// Every other fault already ran the failure path: the order settled
	// to FAILED (conditional on CREATED) inside processOrder.
	log.WithError(err).Error("Order submission failed")
	if err := c.queue.MarkFailed(ctx, job.ID, err.Error()); err != nil {
		log.WithError(err).Error("Failed to finalize job")
	}
}

// processOrder is the submission state machine for one order.
func (c *Consumer) processOrder(ctx context.Context, orderID string) error {
	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			c.logger.WithField("order_id", orderID).Warn("Skipping job for unknown order")
			return nil
		}
		return &transientError{err: fmt.Errorf("failed to load order: %w", err)}
	}

	// Idempotency gate: only CREATED orders are submittable. A job for
	// an order that already progressed, by a concurrent worker or an
	// earlier attempt, is a no-op.
	if order.Status != orders.StatusCreated {
		c.logger.WithFields(map[string]interface{}{
			"order_id": orderID,
			"status":   string(order.Status),
		}).Warn("Skipping order not in submittable state")
		return nil
	}

	creds, err := c.creds.Get(ctx, order.AdvisorID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotConfigured) {
			c.failOrder(ctx, orderID, "exchange credentials not configured")
		} else {
			c.failOrder(ctx, orderID, "credential lookup failed: "+err.Error())
		}
		return err
	}

	token, err := c.tokens.Token(ctx, order.AdvisorID)
	if err != nil {
		c.failOrder(ctx, orderID, "session token acquisition failed: "+err.Error())
		return fmt.Errorf("failed to obtain session token: %w", err)
	}

	params := buildOrderParams(order, creds, token)

	submitCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	start := time.Now()
	res, err := c.gateway.SubmitOrder(submitCtx, params)
	if c.metrics != nil {
		c.metrics.SubmitDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		var rejected *exchange.ErrOrderRejected
		if errors.As(err, &rejected) {
			c.rejectOrder(ctx, orderID, rejected.Code, rejected.Message)
			return err
		}
		// Transport, parse, and timeout errors all settle the order: a
		// pending order with no state progress is never an acceptable
		// outcome of a job execution. The write is conditional on
		// CREATED, so a concurrent winner is never clobbered.
		c.failOrder(ctx, orderID, "submission failed: "+err.Error())
		return err
	}

	applied, err := c.store.MarkSubmitted(ctx, orderID, res.OrderNumber, res.Code, res.Message)
	if err != nil {
		c.failOrder(ctx, orderID, "failed to record submission: "+err.Error())
		return err
	}
	if !applied {
		// Lost the race after a successful submit. The winning writer
		// already settled the order; nothing further to record.
		c.logger.WithField("order_id", orderID).Warn("Order left CREATED during submission; result discarded")
		return nil
	}

	if c.metrics != nil {
		c.metrics.OrdersSubmitted.WithLabelValues(params.TransCode).Inc()
	}

	c.logger.WithFields(map[string]interface{}{
		"order_id":     orderID,
		"ref_no":       order.RefNo,
		"order_number": res.OrderNumber,
		"code":         res.Code,
	}).Info("Order submitted to exchange")

	c.invalidateViews(ctx, orderID)
	return nil
}

// rejectOrder records a gateway rejection with the gateway's own code
// and message, conditional on CREATED.
func (c *Consumer) rejectOrder(ctx context.Context, orderID, code, message string) {
	applied, err := c.store.MarkRejected(ctx, orderID, code, message)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Error("Failed to record order rejection")
		return
	}
	if !applied {
		c.logger.WithField("order_id", orderID).Warn("Order left CREATED before rejection could be recorded")
		return
	}

	if c.metrics != nil {
		c.metrics.OrdersRejected.Inc()
	}
}

// failOrder records a submission failure, conditional on CREATED. Best
// effort: a write error here is logged, not propagated, because the
// caller is already on an error path.
func (c *Consumer) failOrder(ctx context.Context, orderID, reason string) {
	applied, err := c.store.MarkFailedIfCreated(ctx, orderID, reason)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Error("Failed to record order failure")
		return
	}
	if !applied {
		return
	}

	if c.metrics != nil {
		c.metrics.OrdersFailed.Inc()
	}
}

// invalidateViews drops the cached views of the order's client and
// advisor. Success path only; best effort.
func (c *Consumer) invalidateViews(ctx context.Context, orderID string) {
	client, err := c.store.GetClient(ctx, orderID)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Warn("Failed to resolve order client for cache invalidation")
		return
	}
	c.invalidator.InvalidateOrderViews(ctx, client.UserID, client.AdvisorID)
}

// buildOrderParams maps an order and its advisor's identity onto the
// gateway's positional parameters.
func buildOrderParams(order orders.Order, creds credentials.Credentials, token string) protocol.OrderEntryParams {
	params := protocol.OrderEntryParams{
		TransCode:    order.TransactionCode,
		RefNo:        order.RefNo,
		MemberID:     creds.MemberID,
		ClientCode:   order.ClientUserID,
		SchemeCode:   order.SchemeCode,
		BuySell:      order.Side,
		BuySellType:  order.BuySellType,
		DPTxnMode:    order.PaymentMode,
		EUIN:         creds.EUIN,
		EUINFlag:     creds.HasEUIN(),
		SessionToken: token,
	}

	// Modify and cancel instructions reference the gateway's number for
	// the original order; NEW orders leave the slot empty.
	if order.GatewayOrderNumber != nil {
		params.OrderNumber = *order.GatewayOrderNumber
	}

	if order.Amount != nil {
		params.Amount = fmt.Sprintf("%.2f", *order.Amount)
	}
	if order.Units != nil {
		params.Units = fmt.Sprintf("%.4f", *order.Units)
	}

	return params
}
