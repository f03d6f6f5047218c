package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/stashfi/starmf/internal/orders"
	"github.com/stashfi/starmf/internal/pipeline"
	"github.com/stashfi/starmf/pkg/logger"
)

// advisorHeader carries the authenticated advisor's id, set by the
// platform's auth proxy in front of this service.
const advisorHeader = "X-Advisor-ID"

// OrderStore is the slice of the order repository the API needs.
type OrderStore interface {
	Create(ctx context.Context, o orders.Order) (orders.Order, error)
	Get(ctx context.Context, id string) (orders.Order, error)
	ListByAdvisor(ctx context.Context, advisorID string, limit int) ([]orders.Order, error)
}

// RefSource allocates gateway reference numbers.
type RefSource interface {
	Next(ctx context.Context) (string, error)
}

// Enqueuer adds submission jobs to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, orderID string, maxAttempts int) error
	Stats(ctx context.Context) (pipeline.Stats, error)
}

// OrderHandler handles order API endpoints.
type OrderHandler struct {
	store       OrderStore
	refs        RefSource
	queue       Enqueuer
	maxAttempts int
	logger      *logger.Logger
}

// NewOrderHandler creates the order handler.
func NewOrderHandler(store OrderStore, refs RefSource, queue Enqueuer, maxAttempts int, log *logger.Logger) *OrderHandler {
	return &OrderHandler{
		store:       store,
		refs:        refs,
		queue:       queue,
		maxAttempts: maxAttempts,
		logger:      log,
	}
}

// CreateOrderRequest is the order placement payload.
type CreateOrderRequest struct {
	ClientUserID string   `json:"client_user_id"`
	SchemeCode   string   `json:"scheme_code"`
	Side         string   `json:"side"`          // P or R
	BuySellType  string   `json:"buy_sell_type"` // FRESH or ADDITIONAL
	Amount       *float64 `json:"amount,omitempty"`
	Units        *float64 `json:"units,omitempty"`
}

func (req *CreateOrderRequest) validate() string {
	if req.ClientUserID == "" {
		return "client_user_id is required"
	}
	if req.SchemeCode == "" {
		return "scheme_code is required"
	}
	if req.Side != orders.SidePurchase && req.Side != orders.SideRedemption {
		return "side must be P or R"
	}
	if req.BuySellType != "FRESH" && req.BuySellType != "ADDITIONAL" {
		return "buy_sell_type must be FRESH or ADDITIONAL"
	}
	if (req.Amount == nil) == (req.Units == nil) {
		return "exactly one of amount or units is required"
	}
	if req.Amount != nil && *req.Amount <= 0 {
		return "amount must be positive"
	}
	if req.Units != nil && *req.Units <= 0 {
		return "units must be positive"
	}
	return ""
}

// Create accepts an order, persists it as CREATED, and queues it for
// submission. Responds 202: the exchange outcome arrives asynchronously.
// POST /api/orders
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	advisorID := r.Header.Get(advisorHeader)
	if advisorID == "" {
		respondError(w, http.StatusUnauthorized, "Missing advisor identity")
		return
	}

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	refNo, err := h.refs.Next(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to allocate reference number")
		respondError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}

	order, err := h.store.Create(ctx, orders.Order{
		RefNo:        refNo,
		ClientUserID: req.ClientUserID,
		AdvisorID:    advisorID,
		SchemeCode:   req.SchemeCode,
		Side:         req.Side,
		BuySellType:  req.BuySellType,
		Amount:       req.Amount,
		Units:        req.Units,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to create order")
		respondError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}

	if err := h.queue.Enqueue(ctx, order.ID, h.maxAttempts); err != nil {
		// The order exists but will not be picked up; surface the
		// failure so the caller can retry placement.
		h.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to enqueue order")
		respondError(w, http.StatusInternalServerError, "Failed to queue order")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"order_id": order.ID,
		"ref_no":   order.RefNo,
		"status":   "QUEUED",
		"message":  "Order queued for processing",
	})
}

// Get returns one order. Orders of other advisors are reported as not
// found rather than forbidden.
// GET /api/orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	advisorID := r.Header.Get(advisorHeader)
	if advisorID == "" {
		respondError(w, http.StatusUnauthorized, "Missing advisor identity")
		return
	}

	order, err := h.store.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.WithError(err).Error("Failed to get order")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve order")
		return
	}

	if order.AdvisorID != advisorID {
		respondError(w, http.StatusNotFound, "Order not found")
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// List returns the advisor's orders, newest first.
// GET /api/orders?limit=50
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	advisorID := r.Header.Get(advisorHeader)
	if advisorID == "" {
		respondError(w, http.StatusUnauthorized, "Missing advisor identity")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	list, err := h.store.ListByAdvisor(ctx, advisorID, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list orders")
		respondError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"orders": list,
		"count":  len(list),
	})
}

// QueueStats reports submission queue depth.
// GET /api/queue/stats
func (h *OrderHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to read queue stats")
		respondError(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
