package exchange

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/stashfi/starmf/internal/credentials"
	"github.com/stashfi/starmf/internal/exchange/protocol"
	"github.com/stashfi/starmf/pkg/logger"
)

// MockGateway is a deterministic local substitute for the live
// exchange. It produces the same pipe-result shapes the live decoder
// yields, so everything downstream of the gateway behaves identically
// in both modes.
type MockGateway struct {
	logger *logger.Logger
}

// NewMockGateway creates the mock gateway.
func NewMockGateway(log *logger.Logger) *MockGateway {
	return &MockGateway{logger: log}
}

// SubmitOrder fabricates a successful pipe result and runs it through
// the shared parser, exactly as the live path would.
func (g *MockGateway) SubmitOrder(ctx context.Context, params protocol.OrderEntryParams) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}

	message := "Order placed successfully"
	switch params.TransCode {
	case protocol.TransModify:
		message = "Order modified successfully"
	case protocol.TransCancel:
		message = "Order cancelled successfully"
	}

	raw := fmt.Sprintf("100|%s|%s", message, mockOrderNumber(params.RefNo))

	result := protocol.ParsePipeResult(raw)
	if !result.Success {
		return SubmitResult{}, &ErrOrderRejected{Code: result.Code, Message: result.Message}
	}

	g.logger.WithFields(map[string]interface{}{
		"ref_no":       params.RefNo,
		"order_number": result.OrderNumber(),
	}).Debug("Mock gateway accepted order")

	return SubmitResult{
		OrderNumber: result.OrderNumber(),
		Code:        result.Code,
		Message:     result.Message,
	}, nil
}

// Authenticate returns a fixed session token through the shared parser.
func (g *MockGateway) Authenticate(ctx context.Context, creds credentials.Credentials) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	result := protocol.ParsePipeResult("100|MOCKSESSIONTOKEN")
	if !result.Success || result.Message == "" {
		return "", ErrAuthenticationFailed
	}

	return result.Message, nil
}

// QueryOrderStatus reports every queried order as allotted.
func (g *MockGateway) QueryOrderStatus(ctx context.Context, memberID string, orderNumbers []string) ([]OrderStatusInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	units := 10.0
	nav := 100.0
	amount := 1000.0

	infos := make([]OrderStatusInfo, 0, len(orderNumbers))
	for _, n := range orderNumbers {
		infos = append(infos, OrderStatusInfo{
			OrderNumber:    n,
			Status:         "ALLOTTED",
			AllottedUnits:  &units,
			AllottedNAV:    &nav,
			AllottedAmount: &amount,
		})
	}

	return infos, nil
}

// mockOrderNumber derives a stable order number from the reference so
// repeated submissions of the same order get the same number.
func mockOrderNumber(refNo string) string {
	h := fnv.New32a()
	h.Write([]byte(refNo))
	return fmt.Sprintf("MOCK%08d", h.Sum32()%100000000)
}
