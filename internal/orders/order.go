package orders

import (
	"errors"
	"time"
)

// ErrNotFound indicates no order exists with the given id.
var ErrNotFound = errors.New("order not found")

// Status is an order's position in the submission lifecycle.
type Status string

const (
	// StatusCreated: persisted locally, not yet sent to the exchange.
	StatusCreated Status = "CREATED"
	// StatusSubmitted: accepted by the gateway; order number assigned.
	StatusSubmitted Status = "SUBMITTED"
	// StatusAccepted: confirmed by the exchange's status feed.
	StatusAccepted Status = "ACCEPTED"
	// StatusAllotted: units allotted; terminal.
	StatusAllotted Status = "ALLOTTED"
	// StatusRejected: refused by the exchange; terminal.
	StatusRejected Status = "REJECTED"
	// StatusCancelled: cancelled at the exchange; terminal.
	StatusCancelled Status = "CANCELLED"
	// StatusFailed: never reached the exchange; terminal.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusAllotted, StatusRejected, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusSubmitted, StatusAccepted, StatusAllotted,
		StatusRejected, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Side of a transaction from the client's perspective.
const (
	SidePurchase   = "P"
	SideRedemption = "R"
)

// Transaction codes of an exchange instruction. Placement always
// creates NEW orders; modify and cancel instructions reference an
// earlier order's gateway number.
const (
	TransactionNew    = "NEW"
	TransactionModify = "MOD"
	TransactionCancel = "CXL"
)

// Depository transaction modes.
const (
	PaymentModePhysical = "P"
	PaymentModeCDSL     = "C"
	PaymentModeNSDL     = "N"
)

// Order is a client's exchange order as tracked by the platform.
// Optional fields are pointers so absence survives the database round
// trip.
type Order struct {
	ID           string
	RefNo        string
	ClientUserID string
	AdvisorID    string

	SchemeCode      string
	Side            string // P or R
	BuySellType     string // FRESH or ADDITIONAL
	TransactionCode string // NEW, MOD or CXL
	PaymentMode     string // P, C or N
	Amount          *float64
	Units           *float64

	Status                 Status
	GatewayOrderNumber     *string
	GatewayResponseCode    *string
	GatewayResponseMessage *string
	FailureReason          *string

	AllottedUnits  *float64
	AllottedNAV    *float64
	AllottedAmount *float64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt *time.Time
}

// Client is the minimal view of an order's owner needed for cache
// invalidation after a state change.
type Client struct {
	UserID    string
	AdvisorID string
}
