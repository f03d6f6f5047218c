package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/starmf/internal/credentials"
	"github.com/stashfi/starmf/internal/exchange"
	"github.com/stashfi/starmf/internal/exchange/protocol"
	"github.com/stashfi/starmf/internal/orders"
	"github.com/stashfi/starmf/pkg/config"
	"github.com/stashfi/starmf/pkg/logger"
)

// fakeStore is an in-memory order store with the same conditional
// transition semantics as the real repository.
type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*orders.Order
	getErr error
}

func newFakeStore(os ...*orders.Order) *fakeStore {
	s := &fakeStore{orders: make(map[string]*orders.Order)}
	for _, o := range os {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return orders.Order{}, s.getErr
	}
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return *o, nil
}

func (s *fakeStore) MarkSubmitted(ctx context.Context, id, gatewayOrderNumber, code, message string) (bool, error) {
	var number *string
	if gatewayOrderNumber != "" {
		number = &gatewayOrderNumber
	}
	return s.transition(id, orders.StatusSubmitted, number, &code, &message, nil)
}

func (s *fakeStore) MarkRejected(ctx context.Context, id, code, message string) (bool, error) {
	return s.transition(id, orders.StatusRejected, nil, &code, &message, &message)
}

func (s *fakeStore) MarkFailedIfCreated(ctx context.Context, id, reason string) (bool, error) {
	return s.transition(id, orders.StatusFailed, nil, nil, nil, &reason)
}

func (s *fakeStore) transition(id string, to orders.Status, orderNumber, code, message, reason *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != orders.StatusCreated {
		return false, nil
	}
	o.Status = to
	o.GatewayOrderNumber = orderNumber
	if code != nil {
		o.GatewayResponseCode = code
	}
	if message != nil {
		o.GatewayResponseMessage = message
	}
	if reason != nil {
		o.FailureReason = reason
	}
	return true, nil
}

func (s *fakeStore) GetClient(ctx context.Context, orderID string) (orders.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.Client{}, orders.ErrNotFound
	}
	return orders.Client{UserID: o.ClientUserID, AdvisorID: o.AdvisorID}, nil
}

type fakeTokens struct{ err error }

func (f *fakeTokens) Token(ctx context.Context, advisorID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "TOKEN-" + advisorID, nil
}

type fakeCreds struct{ missing bool }

func (f *fakeCreds) Get(ctx context.Context, advisorID string) (credentials.Credentials, error) {
	if f.missing {
		return credentials.Credentials{}, credentials.ErrNotConfigured
	}
	return credentials.Credentials{
		AdvisorID: advisorID,
		MemberID:  "10345",
		UserID:    "1034501",
		EUIN:      "E123456",
	}, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	calls    int
	params   []protocol.OrderEntryParams
	err      error
	number   string
	noNumber bool
}

func (f *fakeGateway) SubmitOrder(ctx context.Context, params protocol.OrderEntryParams) (exchange.SubmitResult, error) {
	f.mu.Lock()
	f.calls++
	f.params = append(f.params, params)
	f.mu.Unlock()
	if f.err != nil {
		return exchange.SubmitResult{}, f.err
	}
	number := "BSE12345"
	if f.noNumber {
		number = ""
	} else if f.number != "" {
		number = f.number
	}
	return exchange.SubmitResult{
		OrderNumber: number,
		Code:        "100",
		Message:     "Order placed successfully",
	}, nil
}

func (f *fakeGateway) Authenticate(ctx context.Context, creds credentials.Credentials) (string, error) {
	return "TOKEN", nil
}

func (f *fakeGateway) QueryOrderStatus(ctx context.Context, memberID string, orderNumbers []string) ([]exchange.OrderStatusInfo, error) {
	return nil, nil
}

type fakeInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeInvalidator) InvalidateOrderViews(ctx context.Context, clientUserID, advisorID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, clientUserID+"/"+advisorID)
}

type fakeQueue struct {
	mu      sync.Mutex
	done    []int64
	failed  map[int64]string
	retried []int64
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failed: make(map[int64]string)}
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*Job, error) { return nil, nil }

func (q *fakeQueue) MarkDone(ctx context.Context, jobID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done = append(q.done, jobID)
	return nil
}

func (q *fakeQueue) MarkFailed(ctx context.Context, jobID int64, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[jobID] = reason
	return nil
}

func (q *fakeQueue) Retry(ctx context.Context, job *Job, backoff time.Duration, reason string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.Attempts >= job.MaxAttempts {
		q.failed[job.ID] = reason
		return false, nil
	}
	q.retried = append(q.retried, job.ID)
	return true, nil
}

func amountPtr(v float64) *float64 { return &v }

func testOrder() *orders.Order {
	return &orders.Order{
		ID:              "order-1",
		RefNo:           "20260828000001",
		ClientUserID:    "client-1",
		AdvisorID:       "advisor-1",
		SchemeCode:      "SCHEME-GR",
		Side:            orders.SidePurchase,
		BuySellType:     "FRESH",
		TransactionCode: orders.TransactionNew,
		PaymentMode:     orders.PaymentModePhysical,
		Amount:          amountPtr(5000),
		Status:          orders.StatusCreated,
	}
}

func testConsumer(store OrderStore, queue JobQueue, gw exchange.Gateway, creds CredentialSource) (*Consumer, *fakeInvalidator) {
	cfg := &config.Config{}
	cfg.Pipeline.Concurrency = 5
	cfg.Pipeline.PollInterval = time.Millisecond
	cfg.Pipeline.RetryBackoff = time.Millisecond
	cfg.BSE.RequestTimeout = time.Second

	inv := &fakeInvalidator{}
	c := NewConsumer(cfg, queue, store, &fakeTokens{}, creds, gw, inv, nil,
		logger.NewWriter(io.Discard, "error"))
	return c, inv
}

func TestProcessOrderSubmitsCreatedOrder(t *testing.T) {
	order := testOrder()
	store := newFakeStore(order)
	gw := &fakeGateway{}
	c, inv := testConsumer(store, newFakeQueue(), gw, &fakeCreds{})

	err := c.processOrder(context.Background(), "order-1")
	require.NoError(t, err)

	got, _ := store.Get(context.Background(), "order-1")
	assert.Equal(t, orders.StatusSubmitted, got.Status)
	require.NotNil(t, got.GatewayOrderNumber)
	assert.Equal(t, "BSE12345", *got.GatewayOrderNumber)
	require.NotNil(t, got.GatewayResponseCode)
	assert.Equal(t, "100", *got.GatewayResponseCode)
	require.NotNil(t, got.GatewayResponseMessage)
	assert.Equal(t, "Order placed successfully", *got.GatewayResponseMessage)

	require.Len(t, gw.params, 1)
	assert.Equal(t, protocol.TransNew, gw.params[0].TransCode)
	assert.Equal(t, "20260828000001", gw.params[0].RefNo)
	assert.Equal(t, "10345", gw.params[0].MemberID)
	assert.Equal(t, orders.PaymentModePhysical, gw.params[0].DPTxnMode)
	assert.Empty(t, gw.params[0].OrderNumber, "new orders carry no gateway order number")
	assert.Equal(t, "5000.00", gw.params[0].Amount)
	assert.Equal(t, "TOKEN-advisor-1", gw.params[0].SessionToken)

	assert.Equal(t, []string{"client-1/advisor-1"}, inv.calls)
}

func TestProcessOrderSubmitWithoutOrderNumber(t *testing.T) {
	// Some accepted responses carry only code and message. The order is
	// still SUBMITTED; the number column stays null.
	order := testOrder()
	store := newFakeStore(order)
	gw := &fakeGateway{noNumber: true}
	c, _ := testConsumer(store, newFakeQueue(), gw, &fakeCreds{})

	require.NoError(t, c.processOrder(context.Background(), "order-1"))

	got, _ := store.Get(context.Background(), "order-1")
	assert.Equal(t, orders.StatusSubmitted, got.Status)
	assert.Nil(t, got.GatewayOrderNumber)
	require.NotNil(t, got.GatewayResponseCode)
	assert.Equal(t, "100", *got.GatewayResponseCode)
}

func TestProcessOrderRejection(t *testing.T) {
	order := testOrder()
	store := newFakeStore(order)
	gw := &fakeGateway{err: &exchange.ErrOrderRejected{Code: "101", Message: "Insufficient balance"}}
	c, inv := testConsumer(store, newFakeQueue(), gw, &fakeCreds{})

	err := c.processOrder(context.Background(), "order-1")

	var rejected *exchange.ErrOrderRejected
	require.True(t, errors.As(err, &rejected), "rejection must be raised to the caller")

	got, _ := store.Get(context.Background(), "order-1")
	assert.Equal(t, orders.StatusRejected, got.Status)
	require.NotNil(t, got.GatewayResponseCode)
	assert.Equal(t, "101", *got.GatewayResponseCode, "the gateway's rejection code must be persisted")
	require.NotNil(t, got.GatewayResponseMessage)
	assert.Equal(t, "Insufficient balance", *got.GatewayResponseMessage)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "Insufficient balance", *got.FailureReason)
	assert.Nil(t, got.GatewayOrderNumber, "rejected orders never carry an order number")
	assert.Empty(t, inv.calls, "views are only invalidated on successful submission")
}

func TestProcessOrderAlreadySubmittedIsNoOp(t *testing.T) {
	order := testOrder()
	order.Status = orders.StatusSubmitted
	number := "BSE00001"
	order.GatewayOrderNumber = &number

	store := newFakeStore(order)
	gw := &fakeGateway{}
	c, inv := testConsumer(store, newFakeQueue(), gw, &fakeCreds{})

	err := c.processOrder(context.Background(), "order-1")
	require.NoError(t, err)

	assert.Equal(t, 0, gw.calls, "already-processed orders must not reach the gateway")
	got, _ := store.Get(context.Background(), "order-1")
	assert.Equal(t, orders.StatusSubmitted, got.Status)
	assert.Equal(t, "BSE00001", *got.GatewayOrderNumber)
	assert.Empty(t, inv.calls)
}

func TestProcessOrderTerminalStatesAreNoOps(t *testing.T) {
	for _, status := range []orders.Status{orders.StatusRejected, orders.StatusFailed, orders.StatusAllotted} {
		t.Run(string(status), func(t *testing.T) {
			order := testOrder()
			order.Status = status
			store := newFakeStore(order)
			gw := &fakeGateway{}
			c, _ := testConsumer(store, newFakeQueue(), gw, &fakeCreds{})

			require.NoError(t, c.processOrder(context.Background(), "order-1"))
			assert.Equal(t, 0, gw.calls)

			got, _ := store.Get(context.Background(), "order-1")
			assert.Equal(t, status, got.Status, "terminal state must be preserved")
		})
	}
}

func TestProcessOrderMissingCredentials(t *testing.T) {
	order := testOrder()
	store := newFakeStore(order)
	gw := &fakeGateway{}
	c, _ := testConsumer(store, newFakeQueue(), gw, &fakeCreds{missing: true})

	err := c.processOrder(context.Background(), "order-1")
	assert.ErrorIs(t, err, credentials.ErrNotConfigured)
	assert.Equal(t, 0, gw.calls)

	got, _ := store.Get(context.Background(), "order-1")
	assert.Equal(t, orders.StatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "credentials not configured")
}

func TestProcessOrderAuthFailureFailsOrder(t *testing.T) {
	order := testOrder()
	store := newFakeStore(order)
	c, _ := testConsumer(store, newFakeQueue(), &fakeGateway{}, &fakeCreds{})
	c.tokens = &fakeTokens{err: exchange.ErrAuthenticationFailed}

	err := c.processOrder(context.Background(), "order-1")
	assert.ErrorIs(t, err, exchange.ErrAuthenticationFailed)

	got, _ := store.Get(context.Background(), "order-1")
	assert.Equal(t, orders.StatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "session token")
}

func TestProcessOrderTransportFailureFailsOrder(t *testing.T) {
	order := testOrder()
	store := newFakeStore(order)
	gw := &fakeGateway{err: errors.New("connection refused")}
	c, inv := testConsumer(store, newFakeQueue(), gw, &fakeCreds{})

	err := c.processOrder(context.Background(), "order-1")
	require.Error(t, err)

	got, _ := store.Get(context.Background(), "order-1")
	assert.Equal(t, orders.StatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "connection refused")
	assert.Empty(t, inv.calls, "a failed submission must not invalidate views")
}

func TestProcessOrderParseFailureIsNotRejection(t *testing.T) {
	order := testOrder()
	store := newFakeStore(order)
	gw := &fakeGateway{err: &protocol.ParseError{Element: "orderEntryParamResult", Reason: "element not found"}}
	c, _ := testConsumer(store, newFakeQueue(), gw, &fakeCreds{})

	err := c.processOrder(context.Background(), "order-1")

	var parseErr *protocol.ParseError
	require.True(t, errors.As(err, &parseErr))
	var rejected *exchange.ErrOrderRejected
	assert.False(t, errors.As(err, &rejected), "an unreadable response carries no business meaning")

	got, _ := store.Get(context.Background(), "order-1")
	assert.Equal(t, orders.StatusFailed, got.Status, "a parse failure settles the order as FAILED, not REJECTED")
}

func TestProcessOrderUnknownOrderIsNoOp(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	c, _ := testConsumer(store, newFakeQueue(), gw, &fakeCreds{})

	require.NoError(t, c.processOrder(context.Background(), "missing"))
	assert.Equal(t, 0, gw.calls)
}

func TestHandleJobSuccessCompletesJob(t *testing.T) {
	order := testOrder()
	store := newFakeStore(order)
	queue := newFakeQueue()
	c, _ := testConsumer(store, queue, &fakeGateway{}, &fakeCreds{})

	c.handleJob(context.Background(), &Job{ID: 7, OrderID: "order-1", Attempts: 1, MaxAttempts: 3})

	assert.Equal(t, []int64{7}, queue.done)
	assert.Empty(t, queue.retried)
}

func TestHandleJobRejectionDoesNotRetry(t *testing.T) {
	order := testOrder()
	store := newFakeStore(order)
	queue := newFakeQueue()
	gw := &fakeGateway{err: &exchange.ErrOrderRejected{Code: "101", Message: "Insufficient balance"}}
	c, _ := testConsumer(store, queue, gw, &fakeCreds{})

	c.handleJob(context.Background(), &Job{ID: 7, OrderID: "order-1", Attempts: 1, MaxAttempts: 3})

	assert.Empty(t, queue.retried, "rejections are final and must not be retried")
	assert.Contains(t, queue.failed[7], "Insufficient balance")
	assert.Equal(t, 1, gw.calls)
}

func TestHandleJobGatewayFaultFinalizesJob(t *testing.T) {
	order := testOrder()
	store := newFakeStore(order)
	queue := newFakeQueue()
	gw := &fakeGateway{err: errors.New("connection refused")}
	c, _ := testConsumer(store, queue, gw, &fakeCreds{})

	c.handleJob(context.Background(), &Job{ID: 7, OrderID: "order-1", Attempts: 1, MaxAttempts: 3})

	// The order settled to FAILED, so a retry would only no-op at the
	// idempotency gate.
	assert.Empty(t, queue.retried)
	assert.Contains(t, queue.failed[7], "connection refused")
	got, _ := store.Get(context.Background(), "order-1")
	assert.Equal(t, orders.StatusFailed, got.Status)
}

func TestHandleJobUnreadableOrderRetries(t *testing.T) {
	store := newFakeStore(testOrder())
	store.getErr = errors.New("connection reset by peer")
	queue := newFakeQueue()
	c, _ := testConsumer(store, queue, &fakeGateway{}, &fakeCreds{})

	c.handleJob(context.Background(), &Job{ID: 7, OrderID: "order-1", Attempts: 1, MaxAttempts: 3})

	assert.Equal(t, []int64{7}, queue.retried, "a job that never read the order is retryable")
	assert.Empty(t, queue.done)
}

func TestHandleJobExhaustedAttemptsFailsOrder(t *testing.T) {
	order := testOrder()
	store := newFakeStore(order)
	store.getErr = errors.New("connection reset by peer")
	queue := newFakeQueue()
	c, _ := testConsumer(store, queue, &fakeGateway{}, &fakeCreds{})

	c.handleJob(context.Background(), &Job{ID: 7, OrderID: "order-1", Attempts: 3, MaxAttempts: 3})
	store.getErr = nil

	assert.NotEmpty(t, queue.failed[7])
	got, _ := store.Get(context.Background(), "order-1")
	assert.Equal(t, orders.StatusFailed, got.Status)
}

func TestConsumerConcurrentDuplicateJobs(t *testing.T) {
	// Two jobs for the same order racing. The conditional store
	// transition picks a single winner; the loser's result is
	// discarded and the recorded order number stays consistent.
	order := testOrder()
	store := newFakeStore(order)
	gw := &fakeGateway{}
	c, _ := testConsumer(store, newFakeQueue(), gw, &fakeCreds{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.processOrder(context.Background(), "order-1")
		}()
	}
	wg.Wait()

	got, _ := store.Get(context.Background(), "order-1")
	assert.Equal(t, orders.StatusSubmitted, got.Status)
	require.NotNil(t, got.GatewayOrderNumber)
	assert.Equal(t, "BSE12345", *got.GatewayOrderNumber)
}
