package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stashfi/starmf/pkg/database"
)

// Repository persists orders. State transitions out of CREATED are
// conditional updates: the WHERE clause carries the expected current
// status, so a transition that lost the race affects zero rows and the
// caller can tell.
type Repository struct {
	db *database.DB
}

// NewRepository creates an order repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

const orderColumns = `
	id, ref_no, client_user_id, advisor_id,
	scheme_code, side, buy_sell_type, transaction_code, payment_mode, amount, units,
	status, gateway_order_number, gateway_response_code, gateway_response_message, failure_reason,
	allotted_units, allotted_nav, allotted_amount,
	created_at, updated_at, submitted_at
`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.RefNo, &o.ClientUserID, &o.AdvisorID,
		&o.SchemeCode, &o.Side, &o.BuySellType, &o.TransactionCode, &o.PaymentMode, &o.Amount, &o.Units,
		&o.Status, &o.GatewayOrderNumber, &o.GatewayResponseCode, &o.GatewayResponseMessage, &o.FailureReason,
		&o.AllottedUnits, &o.AllottedNAV, &o.AllottedAmount,
		&o.CreatedAt, &o.UpdatedAt, &o.SubmittedAt,
	)
	return o, err
}

// Create inserts a new order in CREATED state and returns it with
// database-assigned fields populated.
func (r *Repository) Create(ctx context.Context, o Order) (Order, error) {
	if o.TransactionCode == "" {
		o.TransactionCode = TransactionNew
	}
	if o.PaymentMode == "" {
		o.PaymentMode = PaymentModePhysical
	}

	query := `
		INSERT INTO exchange.orders (
			ref_no, client_user_id, advisor_id,
			scheme_code, side, buy_sell_type, transaction_code, payment_mode,
			amount, units, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + orderColumns

	created, err := scanOrder(r.db.Pool.QueryRow(ctx, query,
		o.RefNo, o.ClientUserID, o.AdvisorID,
		o.SchemeCode, o.Side, o.BuySellType, o.TransactionCode, o.PaymentMode,
		o.Amount, o.Units, StatusCreated,
	))
	if err != nil {
		return Order{}, fmt.Errorf("failed to create order: %w", err)
	}

	return created, nil
}

// Get returns one order by id.
func (r *Repository) Get(ctx context.Context, id string) (Order, error) {
	query := `SELECT ` + orderColumns + ` FROM exchange.orders WHERE id = $1`

	o, err := scanOrder(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("failed to get order: %w", err)
	}

	return o, nil
}

// ListByAdvisor returns an advisor's orders, newest first.
func (r *Repository) ListByAdvisor(ctx context.Context, advisorID string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + orderColumns + `
		FROM exchange.orders
		WHERE advisor_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, advisorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		result = append(result, o)
	}

	return result, rows.Err()
}

// MarkSubmitted records gateway acceptance with the gateway's response
// code and message. The update applies only while the order is still
// CREATED; a false return means the order had already left CREATED and
// nothing was written. An empty order number is stored as NULL: some
// responses carry no number in the immediate result.
func (r *Repository) MarkSubmitted(ctx context.Context, id, gatewayOrderNumber, code, message string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE exchange.orders
		SET status = $1,
			gateway_order_number = NULLIF($2, ''),
			gateway_response_code = $3,
			gateway_response_message = $4,
			submitted_at = NOW(), updated_at = NOW()
		WHERE id = $5 AND status = $6`,
		StatusSubmitted, gatewayOrderNumber, code, message, id, StatusCreated,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark order submitted: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// MarkRejected records a gateway rejection with the gateway's own code
// and message, conditional on CREATED.
func (r *Repository) MarkRejected(ctx context.Context, id, code, message string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE exchange.orders
		SET status = $1,
			gateway_response_code = $2,
			gateway_response_message = $3,
			failure_reason = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		StatusRejected, code, message, id, StatusCreated,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark order rejected: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// MarkFailedIfCreated records a pre-exchange failure, conditional on
// CREATED. An order that already progressed is left untouched.
func (r *Repository) MarkFailedIfCreated(ctx context.Context, id, reason string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE exchange.orders
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		StatusFailed, reason, id, StatusCreated,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark order failed: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ApplyGatewayStatus moves a SUBMITTED or ACCEPTED order to the state
// reported by the exchange's status feed, recording allotment details
// when present. Terminal orders are never touched.
func (r *Repository) ApplyGatewayStatus(ctx context.Context, gatewayOrderNumber string, status Status, units, nav, amount *float64) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("invalid order status %q", status)
	}

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE exchange.orders
		SET status = $1,
			allotted_units = COALESCE($2, allotted_units),
			allotted_nav = COALESCE($3, allotted_nav),
			allotted_amount = COALESCE($4, allotted_amount),
			updated_at = NOW()
		WHERE gateway_order_number = $5 AND status IN ($6, $7)`,
		status, units, nav, amount,
		gatewayOrderNumber, StatusSubmitted, StatusAccepted,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply gateway status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// PollableOrder is an order awaiting a status update from the exchange.
type PollableOrder struct {
	GatewayOrderNumber string
	AdvisorID          string
	MemberID           string
}

// ListPollable returns non-terminal submitted orders grouped for the
// status poll job. Orders submitted within the last poll interval are
// included; ancient ones are capped by age to keep batches bounded.
func (r *Repository) ListPollable(ctx context.Context, maxAge time.Duration, limit int) ([]PollableOrder, error) {
	query := `
		SELECT o.gateway_order_number, o.advisor_id, c.member_id
		FROM exchange.orders o
		JOIN exchange.advisor_credentials c ON c.advisor_id = o.advisor_id
		WHERE o.status IN ($1, $2)
		  AND o.gateway_order_number IS NOT NULL
		  AND o.submitted_at > NOW() - make_interval(secs => $3)
		ORDER BY o.submitted_at
		LIMIT $4`

	rows, err := r.db.Pool.Query(ctx, query,
		StatusSubmitted, StatusAccepted, maxAge.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pollable orders: %w", err)
	}
	defer rows.Close()

	var result []PollableOrder
	for rows.Next() {
		var p PollableOrder
		if err := rows.Scan(&p.GatewayOrderNumber, &p.AdvisorID, &p.MemberID); err != nil {
			return nil, fmt.Errorf("failed to scan pollable order: %w", err)
		}
		result = append(result, p)
	}

	return result, rows.Err()
}

// GetClientByOrderNumber resolves an order's owner from its gateway
// order number. Used by the status poll job.
func (r *Repository) GetClientByOrderNumber(ctx context.Context, gatewayOrderNumber string) (Client, error) {
	var c Client
	err := r.db.Pool.QueryRow(ctx,
		`SELECT client_user_id, advisor_id FROM exchange.orders WHERE gateway_order_number = $1`,
		gatewayOrderNumber,
	).Scan(&c.UserID, &c.AdvisorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrNotFound
		}
		return Client{}, fmt.Errorf("failed to resolve order owner: %w", err)
	}

	return c, nil
}

// GetClient returns the owner of an order, for cache invalidation.
func (r *Repository) GetClient(ctx context.Context, orderID string) (Client, error) {
	var c Client
	err := r.db.Pool.QueryRow(ctx,
		`SELECT client_user_id, advisor_id FROM exchange.orders WHERE id = $1`, orderID,
	).Scan(&c.UserID, &c.AdvisorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrNotFound
		}
		return Client{}, fmt.Errorf("failed to get order client: %w", err)
	}

	return c, nil
}
