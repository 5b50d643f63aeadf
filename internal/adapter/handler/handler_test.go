package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/pos-checkout/internal/adapter/storage"
	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/core/service"
)

type mockCheckouter struct {
	mu  sync.Mutex
	got []domain.CheckoutRequest
	tx  *domain.Transaction
	err error
}

func (m *mockCheckouter) Checkout(_ context.Context, req domain.CheckoutRequest) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, req)
	return m.tx, m.err
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postCheckout(t *testing.T, h *HTTPHandler, body string) (*httptest.ResponseRecorder, CheckoutResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Checkout(rec, httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(body)))
	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

// newMemoryService wires the real engine over in-memory stores holding
// one product P priced 10.00 with stock 5.
func newMemoryService(t *testing.T) (*service.CheckoutService, *storage.MemoryLedger) {
	t.Helper()
	ledger := storage.NewMemoryLedger(time.Second)
	require.NoError(t, ledger.UpsertProduct(context.Background(), domain.Product{
		ID: "P", Name: "Widget", Price: decimal.NewFromInt(10), Stock: 5,
	}))
	accounts := storage.NewMemoryAccounts(domain.CreditPolicy{}, time.Second)
	audit := storage.NewMemoryAuditLog()
	svc := service.NewCheckoutService(ledger, accounts, audit, audit, service.Config{},
		service.WithLogger(discard()), service.WithRequestGuard(storage.NewMemoryRequestGuard()))
	return svc, ledger
}

func TestHTTPCheckout_ExampleSale(t *testing.T) {
	svc, ledger := newMemoryService(t)
	h := NewHTTPHandler(svc, discard())

	rec, resp := postCheckout(t, h, `{
		"request_id": "r-1",
		"items": [{"product_id": "P", "quantity": 3}],
		"discount": "5.00",
		"tax_rate": "0.10",
		"actor": "cashier-1"
	}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, "30.00", resp.Transaction.Subtotal)
	assert.Equal(t, "2.50", resp.Transaction.Tax)
	assert.Equal(t, "27.50", resp.Transaction.Total)
	assert.Equal(t, "INV-00001", resp.Transaction.InvoiceNo)
	assert.Equal(t, "cash", resp.Transaction.PaymentMethod)

	p, _ := ledger.Product("P")
	assert.Equal(t, 2, p.Stock)

	rec, resp = postCheckout(t, h, `{"request_id":"r-1","items":[{"product_id":"P","quantity":1}],"actor":"cashier-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_REQUEST", resp.Kind)
}

func TestHTTPCheckout_ErrorStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"empty cart", domain.EmptyCart(), http.StatusBadRequest, "EMPTY_CART"},
		{"discount", domain.InvalidDiscount("too much"), http.StatusBadRequest, "INVALID_DISCOUNT"},
		{"stock", domain.StockError("P", 3, 1, nil), http.StatusConflict, "INSUFFICIENT_STOCK"},
		{"credit", domain.InsufficientCredit("c1", "no", nil), http.StatusPaymentRequired, "INSUFFICIENT_CREDIT"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHTTPHandler(&mockCheckouter{err: tc.err}, discard())
			rec, resp := postCheckout(t, h, `{"items":[{"product_id":"P","quantity":1}],"actor":"a"}`)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.kind, resp.Kind)
			assert.False(t, resp.Success)
			if tc.kind == "" {
				assert.Equal(t, "internal error", resp.Message)
			}
		})
	}
}

func TestHTTPCheckout_AuditFailureStillSucceeds(t *testing.T) {
	tx := &domain.Transaction{ID: "tx-1", InvoiceNo: "INV-00003", Status: domain.TransactionCompleted, Total: decimal.NewFromInt(4)}
	h := NewHTTPHandler(&mockCheckouter{tx: tx, err: domain.AuditWrite("tx-1", errors.New("disk full"))}, discard())

	rec, resp := postCheckout(t, h, `{"items":[{"product_id":"P","quantity":1}],"actor":"a"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "AUDIT_WRITE", resp.Kind)
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, "4.00", resp.Transaction.Total)
}

func TestHTTPCheckout_BadInput(t *testing.T) {
	m := &mockCheckouter{}
	h := NewHTTPHandler(m, discard())

	rec, resp := postCheckout(t, h, `{"items": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", resp.Kind)

	rec, resp = postCheckout(t, h, `{"items":[{"product_id":"P","quantity":1}],"discount":"1.005","actor":"a"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", resp.Kind)
	assert.Empty(t, m.got, "engine must not be called for unparsable amounts")

	rec = httptest.NewRecorder()
	h.Checkout(rec, httptest.NewRequest(http.MethodGet, "/api/checkout", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTPCheckout_MapsRequest(t *testing.T) {
	m := &mockCheckouter{tx: &domain.Transaction{ID: "tx"}}
	h := NewHTTPHandler(m, discard())

	body, _ := json.Marshal(CheckoutRequest{
		RequestID:     "r-9",
		Items:         []CartItem{{ProductID: "B", Quantity: 2}, {ProductID: "A", Quantity: 1}},
		CustomerID:    "c1",
		PaymentMethod: "credit",
		Discount:      "1.50",
		TaxRate:       "0.08",
		Actor:         "cashier-2",
		Terminal:      "till-1",
	})
	rec := httptest.NewRecorder()
	h.Checkout(rec, httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, m.got, 1)
	got := m.got[0]
	assert.Equal(t, "r-9", got.RequestID)
	assert.Equal(t, domain.PaymentCredit, got.PaymentMethod)
	assert.True(t, got.Discount.Equal(decimal.RequireFromString("1.50")))
	assert.True(t, got.TaxRate.Equal(decimal.RequireFromString("0.08")))
	assert.Equal(t, []domain.CartLine{{ProductID: "B", Quantity: 2}, {ProductID: "A", Quantity: 1}}, got.Lines)
	assert.Equal(t, "till-1", got.Terminal)
}

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHTTPHandler(&mockCheckouter{}, discard(), mockPinger{}).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHTTPHandler(&mockCheckouter{}, discard(), mockPinger{err: errors.New("db down")}).
		HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}

func dialBufconn(t *testing.T, checkout Checkouter) *CheckoutClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterCheckoutServer(srv, NewGRPCHandler(checkout, discard()))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewCheckoutClient(conn)
}

func TestGRPCCheckout(t *testing.T) {
	svc, _ := newMemoryService(t)
	client := dialBufconn(t, svc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Checkout(ctx, &CheckoutRequest{
		Items:    []CartItem{{ProductID: "P", Quantity: 3}},
		Discount: "5.00",
		TaxRate:  "0.10",
		Actor:    "cashier-1",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "27.50", resp.Transaction.Total)

	resp, err = client.Checkout(ctx, &CheckoutRequest{
		Items: []CartItem{{ProductID: "P", Quantity: 3}},
		Actor: "cashier-1",
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "INSUFFICIENT_STOCK", resp.Kind)
}

func TestGRPCCheckout_InternalError(t *testing.T) {
	client := dialBufconn(t, &mockCheckouter{err: errors.New("boom")})

	_, err := client.Checkout(context.Background(), &CheckoutRequest{
		Items: []CartItem{{ProductID: "P", Quantity: 1}},
		Actor: "a",
	})
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}
