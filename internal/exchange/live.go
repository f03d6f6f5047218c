package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stashfi/starmf/internal/credentials"
	"github.com/stashfi/starmf/internal/exchange/protocol"
	"github.com/stashfi/starmf/pkg/config"
	"github.com/stashfi/starmf/pkg/httputil"
	"github.com/stashfi/starmf/pkg/logger"
	"github.com/stashfi/starmf/pkg/redis"
)

// LiveGateway talks to the real exchange endpoints. Order entry goes
// over the legacy SOAP service; status queries use the JSON API.
type LiveGateway struct {
	baseURL string

	// Order entry is not idempotent on the exchange side, so its
	// client never retries. Auth and status queries are safe to retry.
	orderClient *httputil.Client
	queryClient *httputil.Client

	logger *logger.Logger
}

// NewLiveGateway creates the live gateway from configuration.
func NewLiveGateway(cfg *config.Config, log *logger.Logger, limiter *redis.RateLimiter) *LiveGateway {
	orderClient := httputil.NewWithTimeout(log, cfg.BSE.RequestTimeout).DisableRetry()
	queryClient := httputil.NewWithTimeout(log, cfg.BSE.RequestTimeout).WithRetry(3, time.Second)

	if limiter != nil {
		orderClient = orderClient.WithRateLimiter(limiter, redis.BSERateLimit)
		queryClient = queryClient.WithRateLimiter(limiter, redis.BSERateLimit)
	}

	return &LiveGateway{
		baseURL:     strings.TrimRight(cfg.BSE.BaseURL, "/"),
		orderClient: orderClient,
		queryClient: queryClient,
		logger:      log,
	}
}

// SubmitOrder sends an order-entry SOAP request. The gateway's pipe
// result decides the outcome: success yields the result with the
// assigned order number (possibly absent), a non-success code yields
// *ErrOrderRejected.
func (g *LiveGateway) SubmitOrder(ctx context.Context, params protocol.OrderEntryParams) (SubmitResult, error) {
	envelope := protocol.BuildEnvelope(protocol.BuildOrderEntryBody(params.Encode()))

	body, err := g.post(ctx, g.orderClient, protocol.EndpointOrderEntry, protocol.ActionOrderEntry, envelope)
	if err != nil {
		return SubmitResult{}, err
	}

	raw, err := protocol.ExtractOrderEntryResult(body)
	if err != nil {
		return SubmitResult{}, err
	}

	result := protocol.ParsePipeResult(raw)
	if !result.Success {
		g.logger.WithFields(map[string]interface{}{
			"ref_no": params.RefNo,
			"code":   result.Code,
			"reason": result.Message,
		}).Warn("Order rejected by exchange")
		return SubmitResult{}, &ErrOrderRejected{Code: result.Code, Message: result.Message}
	}

	return SubmitResult{
		OrderNumber: result.OrderNumber(),
		Code:        result.Code,
		Message:     result.Message,
	}, nil
}

// Authenticate exchanges credentials for a session token via the
// getPassword operation. The token arrives in the result's message
// slot.
func (g *LiveGateway) Authenticate(ctx context.Context, creds credentials.Credentials) (string, error) {
	params := protocol.PasswordParams{
		UserID:   creds.UserID,
		MemberID: creds.MemberID,
		Password: creds.Password,
		PassKey:  creds.PassKey,
	}
	envelope := protocol.BuildEnvelope(protocol.BuildGetPasswordBody(params.Encode()))

	g.logger.WithFields(map[string]interface{}{
		"advisor_id": creds.AdvisorID,
		"params":     protocol.SanitizePipe(params),
	}).Debug("Requesting exchange session token")

	body, err := g.post(ctx, g.queryClient, protocol.EndpointOrderEntry, protocol.ActionGetPassword, envelope)
	if err != nil {
		return "", err
	}

	raw, err := protocol.ExtractGetPasswordResult(body)
	if err != nil {
		return "", err
	}

	result := protocol.ParsePipeResult(raw)
	if !result.Success || result.Message == "" {
		g.logger.WithFields(map[string]interface{}{
			"advisor_id": creds.AdvisorID,
			"code":       result.Code,
		}).Error("Exchange authentication failed")
		return "", fmt.Errorf("%w: code %s", ErrAuthenticationFailed, result.Code)
	}

	return result.Message, nil
}

// orderStatusRequest is the JSON payload of the status query endpoint.
type orderStatusRequest struct {
	MemberCode string `json:"MemberCode"`
	OrderNo    string `json:"OrderNo"`
}

type orderStatusResponse struct {
	Orders []struct {
		OrderNumber    string   `json:"OrderNumber"`
		Status         string   `json:"Status"`
		AllottedUnits  *float64 `json:"AllottedUnits"`
		AllottedNav    *float64 `json:"AllottedNav"`
		AllottedAmount *float64 `json:"AllottedAmount"`
	} `json:"Orders"`
}

// QueryOrderStatus fetches gateway-side state for a batch of orders.
func (g *LiveGateway) QueryOrderStatus(ctx context.Context, memberID string, orderNumbers []string) ([]OrderStatusInfo, error) {
	if len(orderNumbers) == 0 {
		return nil, nil
	}

	payload := orderStatusRequest{
		MemberCode: memberID,
		OrderNo:    strings.Join(orderNumbers, ","),
	}

	resp, err := g.queryClient.PostJSON(ctx, g.baseURL+protocol.EndpointOrderStatus, payload)
	if err != nil {
		return nil, fmt.Errorf("order status query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("order status query returned status %d", resp.StatusCode)
	}

	var decoded orderStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode order status response: %w", err)
	}

	infos := make([]OrderStatusInfo, 0, len(decoded.Orders))
	for _, o := range decoded.Orders {
		infos = append(infos, OrderStatusInfo{
			OrderNumber:    o.OrderNumber,
			Status:         o.Status,
			AllottedUnits:  o.AllottedUnits,
			AllottedNAV:    o.AllottedNav,
			AllottedAmount: o.AllottedAmount,
		})
	}

	return infos, nil
}

// post sends a SOAP envelope and returns the raw response body.
func (g *LiveGateway) post(ctx context.Context, client *httputil.Client, endpoint, action, envelope string) ([]byte, error) {
	resp, err := client.PostXML(ctx, g.baseURL+endpoint, action, envelope)
	if err != nil {
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		g.logger.WithFields(map[string]interface{}{
			"status_code": resp.StatusCode,
			"action":      action,
			"body":        protocol.Sanitize(string(body)),
		}).Error("Exchange returned non-OK status")
		return nil, fmt.Errorf("exchange returned status %d", resp.StatusCode)
	}

	return body, nil
}
