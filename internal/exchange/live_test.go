package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashfi/starmf/internal/credentials"
	"github.com/stashfi/starmf/internal/exchange/protocol"
	"github.com/stashfi/starmf/pkg/config"
)

func liveGatewayFor(t *testing.T, srv *httptest.Server) *LiveGateway {
	t.Helper()
	cfg := &config.Config{}
	cfg.BSE.BaseURL = srv.URL
	cfg.BSE.RequestTimeout = 5 * time.Second
	return NewLiveGateway(cfg, testLogger(), nil)
}

func soapResponse(element, result string) string {
	return `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>` +
		`<` + element + `Response xmlns="http://bsestarmf.in/">` +
		`<` + element + `Result>` + result + `</` + element + `Result>` +
		`</` + element + `Response></soap:Body></soap:Envelope>`
}

func TestLiveGatewaySubmitOrderSuccess(t *testing.T) {
	var gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		io.WriteString(w, soapResponse("orderEntryParam", "100|Order placed successfully|BSE12345"))
	}))
	defer srv.Close()

	g := liveGatewayFor(t, srv)
	res, err := g.SubmitOrder(context.Background(), protocol.OrderEntryParams{
		TransCode:    protocol.TransNew,
		RefNo:        "REF1",
		SessionToken: "TOKEN",
	})

	require.NoError(t, err)
	assert.Equal(t, "BSE12345", res.OrderNumber)
	assert.Equal(t, "100", res.Code)
	assert.Equal(t, "Order placed successfully", res.Message)
	assert.Contains(t, gotBody, "<bse:orderEntryParam>")
	assert.Contains(t, gotBody, "NEW|REF1")
}

func TestLiveGatewaySubmitOrderSuccessWithoutNumber(t *testing.T) {
	// An accepted result may carry no order number; that is still a
	// success, not a parse failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, soapResponse("orderEntryParam", "100|Order placed successfully"))
	}))
	defer srv.Close()

	g := liveGatewayFor(t, srv)
	res, err := g.SubmitOrder(context.Background(), protocol.OrderEntryParams{RefNo: "REF1"})

	require.NoError(t, err)
	assert.Empty(t, res.OrderNumber)
	assert.Equal(t, "100", res.Code)
	assert.Equal(t, "Order placed successfully", res.Message)
}

func TestLiveGatewaySubmitOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, soapResponse("orderEntryParam", "101|Insufficient balance in client account"))
	}))
	defer srv.Close()

	g := liveGatewayFor(t, srv)
	_, err := g.SubmitOrder(context.Background(), protocol.OrderEntryParams{RefNo: "REF1"})

	var rejected *ErrOrderRejected
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "101", rejected.Code)
	assert.Equal(t, "Insufficient balance in client account", rejected.Message)
}

func TestLiveGatewaySubmitOrderMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>gateway maintenance page</html>`)
	}))
	defer srv.Close()

	g := liveGatewayFor(t, srv)
	_, err := g.SubmitOrder(context.Background(), protocol.OrderEntryParams{RefNo: "REF1"})

	var parseErr *protocol.ParseError
	require.True(t, errors.As(err, &parseErr), "malformed envelope must surface as a parse error, not a rejection")
}

func TestLiveGatewaySubmitOrderServerError(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := liveGatewayFor(t, srv)
	_, err := g.SubmitOrder(context.Background(), protocol.OrderEntryParams{RefNo: "REF1"})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "order entry must never be retried at the HTTP layer")
}

func TestLiveGatewayAuthenticate(t *testing.T) {
	var gotAction string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		io.WriteString(w, soapResponse("getPassword", "100|SESSIONTOKEN123"))
	}))
	defer srv.Close()

	g := liveGatewayFor(t, srv)
	token, err := g.Authenticate(context.Background(), credentials.Credentials{
		AdvisorID: "adv-1",
		UserID:    "1034501",
		MemberID:  "10345",
		Password:  "secret",
		PassKey:   "passkey",
	})

	require.NoError(t, err)
	assert.Equal(t, "SESSIONTOKEN123", token)
	assert.Equal(t, protocol.ActionGetPassword, gotAction)
}

func TestLiveGatewayAuthenticateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, soapResponse("getPassword", "101|Invalid member credentials"))
	}))
	defer srv.Close()

	g := liveGatewayFor(t, srv)
	_, err := g.Authenticate(context.Background(), credentials.Credentials{AdvisorID: "adv-1"})

	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestLiveGatewayQueryOrderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "10345", req["MemberCode"])
		assert.Equal(t, "BSE001,BSE002", req["OrderNo"])

		io.WriteString(w, `{"Orders":[`+
			`{"OrderNumber":"BSE001","Status":"ALLOTTED","AllottedUnits":12.5,"AllottedNav":101.2,"AllottedAmount":1265.0},`+
			`{"OrderNumber":"BSE002","Status":"REJECTED"}]}`)
	}))
	defer srv.Close()

	g := liveGatewayFor(t, srv)
	infos, err := g.QueryOrderStatus(context.Background(), "10345", []string{"BSE001", "BSE002"})

	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "ALLOTTED", infos[0].Status)
	require.NotNil(t, infos[0].AllottedUnits)
	assert.Equal(t, 12.5, *infos[0].AllottedUnits)
	assert.Nil(t, infos[1].AllottedUnits)
}

func TestLiveGatewayQueryOrderStatusEmptyBatch(t *testing.T) {
	g := liveGatewayFor(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty batch")
	})))

	infos, err := g.QueryOrderStatus(context.Background(), "10345", nil)
	require.NoError(t, err)
	assert.Nil(t, infos)
}

func TestNewGatewaySelectsMode(t *testing.T) {
	cfg := &config.Config{}
	cfg.BSE.MockMode = true

	g := NewGateway(cfg, testLogger(), nil)
	_, ok := g.(*MockGateway)
	assert.True(t, ok)

	cfg.BSE.MockMode = false
	cfg.BSE.BaseURL = "https://example.invalid"
	cfg.BSE.RequestTimeout = time.Second

	g = NewGateway(cfg, testLogger(), nil)
	_, ok = g.(*LiveGateway)
	assert.True(t, ok)
}

func TestMockAndLiveProduceSameResultShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, soapResponse("orderEntryParam", "100|Order placed successfully|BSE12345"))
	}))
	defer srv.Close()

	live := liveGatewayFor(t, srv)
	mock := NewMockGateway(testLogger())

	params := protocol.OrderEntryParams{TransCode: protocol.TransNew, RefNo: "REF1"}

	liveRes, err := live.SubmitOrder(context.Background(), params)
	require.NoError(t, err)
	mockRes, err := mock.SubmitOrder(context.Background(), params)
	require.NoError(t, err)

	assert.NotEmpty(t, liveRes.OrderNumber)
	assert.NotEmpty(t, mockRes.OrderNumber)
	assert.False(t, strings.Contains(liveRes.OrderNumber, "|"))
	assert.False(t, strings.Contains(mockRes.OrderNumber, "|"))
	assert.Equal(t, liveRes.Code, mockRes.Code)
	assert.Equal(t, liveRes.Message, mockRes.Message)
}
