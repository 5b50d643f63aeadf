package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-checkout/internal/adapter/storage"
	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/port"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	ledger   *storage.MemoryLedger
	accounts *storage.MemoryAccounts
	audit    *storage.MemoryAuditLog
	svc      *CheckoutService
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		ledger:   storage.NewMemoryLedger(time.Second),
		accounts: storage.NewMemoryAccounts(domain.CreditPolicy{}, time.Second),
		audit:    storage.NewMemoryAuditLog(),
	}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	env.svc = NewCheckoutService(env.ledger, env.accounts, env.audit, env.audit, Config{}, opts...)
	return env
}

func (e *testEnv) addProduct(t *testing.T, id, price string, stock int) {
	t.Helper()
	require.NoError(t, e.ledger.UpsertProduct(context.Background(), domain.Product{
		ID: id, Name: id, Price: dec(price), Stock: stock,
	}))
}

func (e *testEnv) addCustomer(t *testing.T, id, phone, balance string) {
	t.Helper()
	require.NoError(t, e.accounts.CreateCustomer(context.Background(), domain.Customer{
		ID: id, Name: id, Phone: phone, Balance: dec(balance),
	}))
}

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	p, ok := e.ledger.Product(id)
	require.True(t, ok, "product %s missing", id)
	return p.Stock
}

func (e *testEnv) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	c, err := e.accounts.Customer(context.Background(), id)
	require.NoError(t, err)
	return c.Balance
}

func sale(lines ...domain.CartLine) domain.CheckoutRequest {
	return domain.CheckoutRequest{Lines: lines, Actor: "cashier-1", Terminal: "till-1"}
}

func line(id string, qty int) domain.CartLine {
	return domain.CartLine{ProductID: id, Quantity: qty}
}

func TestCheckout_ExampleSale(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "P", "10.00", 5)

	req := sale(line("P", 3))
	req.Discount = dec("5.00")
	req.TaxRate = dec("0.10")

	tx, err := env.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, tx)

	assert.Equal(t, domain.TransactionCompleted, tx.Status)
	assert.Equal(t, "INV-00001", tx.InvoiceNo)
	assert.True(t, tx.Subtotal.Equal(dec("30.00")))
	assert.True(t, tx.Discount.Equal(dec("5.00")))
	assert.True(t, tx.Tax.Equal(dec("2.50")))
	assert.True(t, tx.Total.Equal(dec("27.50")))
	assert.True(t, tx.Subtotal.Sub(tx.Discount).Add(tx.Tax).Equal(tx.Total))
	require.Len(t, tx.Lines, 1)
	assert.True(t, tx.Lines[0].UnitPrice.Equal(dec("10.00")))

	assert.Equal(t, 2, env.stock(t, "P"))

	entries := env.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TransactionCompleted, entries[0].Transaction.Status)
	assert.Equal(t, "cashier-1", entries[0].Actor)
	assert.Equal(t, "till-1", entries[0].Terminal)
}

func TestCheckout_EmptyCart(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "P", "10.00", 5)

	tx, err := env.svc.Checkout(context.Background(), sale())
	assert.Nil(t, tx)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Equal(t, 5, env.stock(t, "P"))

	entries := env.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TransactionFailed, entries[0].Transaction.Status)
	assert.Equal(t, domain.KindEmptyCart, entries[0].ErrorKind)
	assert.Empty(t, entries[0].Transaction.InvoiceNo)
}

func TestCheckout_EmptyCartWinsOverMissingActor(t *testing.T) {
	env := newTestEnv(t)

	req := sale()
	req.Actor = ""
	_, err := env.svc.Checkout(context.Background(), req)
	assert.Equal(t, domain.KindEmptyCart, domain.KindOf(err))
}

func TestCheckout_MergedQuantityOverflow(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "P", "10.00", 5)

	huge := math.MaxInt/2 + 1
	tx, err := env.svc.Checkout(context.Background(), sale(line("P", huge), line("P", huge)))
	assert.Nil(t, tx)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	assert.Equal(t, 5, env.stock(t, "P"))

	entries := env.audit.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Transaction.Total.IsZero())
}

func TestCheckout_DiscountAboveSubtotal(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "P", "10.00", 5)
	env.addCustomer(t, "c1", "0911111111", "100.00")

	req := sale(line("P", 1))
	req.Discount = dec("10.01")
	req.CustomerID = "c1"
	req.PaymentMethod = domain.PaymentCredit

	_, err := env.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidDiscount)
	assert.Equal(t, 5, env.stock(t, "P"))
	assert.True(t, env.balance(t, "c1").Equal(dec("100.00")))
}

func TestCheckout_MergesDuplicateLines(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "P", "1.00", 5)

	tx, err := env.svc.Checkout(context.Background(), sale(line("P", 2), line("P", 3)))
	require.NoError(t, err)
	require.Len(t, tx.Lines, 1)
	assert.Equal(t, 5, tx.Lines[0].Quantity)
	assert.Equal(t, 0, env.stock(t, "P"))
}

func TestCheckout_UnknownProductOrCustomer(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "P", "1.00", 5)

	_, err := env.svc.Checkout(context.Background(), sale(line("missing", 1)))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	req := sale(line("P", 1))
	req.CustomerID = "ghost"
	_, err = env.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 5, env.stock(t, "P"))
}

func TestCheckout_CreditSale(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "P", "10.00", 5)
	env.addCustomer(t, "c1", "0911111111", "50.00")

	req := sale(line("P", 3))
	req.Discount = dec("5.00")
	req.TaxRate = dec("0.10")
	req.CustomerID = "c1"
	req.PaymentMethod = domain.PaymentCredit

	tx, err := env.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "c1", tx.CustomerID)
	assert.True(t, env.balance(t, "c1").Equal(dec("22.50")), "balance %s", env.balance(t, "c1"))
}

func TestCheckout_CashSaleLeavesBalance(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "P", "10.00", 5)
	env.addCustomer(t, "c1", "0911111111", "0")

	req := sale(line("P", 1))
	req.CustomerID = "c1"

	_, err := env.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, env.balance(t, "c1").IsZero())
}

func TestCheckout_InsufficientCreditPreCheck(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "P", "10.00", 5)
	env.addCustomer(t, "c1", "0911111111", "5.00")

	req := sale(line("P", 1))
	req.CustomerID = "c1"
	req.PaymentMethod = domain.PaymentCredit

	_, err := env.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredit)
	assert.Equal(t, 5, env.stock(t, "P"))
	assert.True(t, env.balance(t, "c1").Equal(dec("5.00")))
}

func TestCheckout_DebitFailureRollsBackStock(t *testing.T) {
	env := &testEnv{
		ledger:   storage.NewMemoryLedger(time.Second),
		accounts: storage.NewMemoryAccounts(domain.CreditPolicy{}, time.Second),
		audit:    storage.NewMemoryAuditLog(),
	}
	// The engine's policy lets the pre-check pass; the account enforces
	// the stricter one at debit time.
	cfg := Config{CreditPolicy: domain.CreditPolicy{AllowOverdraft: true}}
	env.svc = NewCheckoutService(env.ledger, env.accounts, env.audit, env.audit, cfg, WithLogger(quietLogger()))
	env.addProduct(t, "A", "10.00", 5)
	env.addProduct(t, "B", "10.00", 5)
	env.addCustomer(t, "c1", "0911111111", "15.00")

	req := sale(line("A", 1), line("B", 1))
	req.CustomerID = "c1"
	req.PaymentMethod = domain.PaymentCredit

	_, err := env.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredit)
	assert.Equal(t, 5, env.stock(t, "A"))
	assert.Equal(t, 5, env.stock(t, "B"))
	assert.True(t, env.balance(t, "c1").Equal(dec("15.00")))
}

// flakyLedger fails Reserve for chosen products and records call order.
type flakyLedger struct {
	port.InventoryLedger
	mu          sync.Mutex
	failReserve map[string]error
	failRelease error
	reserved    []string
	released    []string
}

func (f *flakyLedger) Reserve(ctx context.Context, productID string, quantity int) (*domain.Reservation, error) {
	f.mu.Lock()
	f.reserved = append(f.reserved, productID)
	err := f.failReserve[productID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.InventoryLedger.Reserve(ctx, productID, quantity)
}

func (f *flakyLedger) Release(ctx context.Context, r *domain.Reservation) error {
	f.mu.Lock()
	f.released = append(f.released, r.ProductID)
	fail := f.failRelease
	f.mu.Unlock()
	if fail != nil {
		return fail
	}
	return f.InventoryLedger.Release(ctx, r)
}

func TestCheckout_ReservationFailureRollsBackInReverse(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "a", "1.00", 5)
	env.addProduct(t, "b", "1.00", 5)
	env.addProduct(t, "c", "1.00", 5)

	flaky := &flakyLedger{
		InventoryLedger: env.ledger,
		failReserve:     map[string]error{"c": domain.StockError("c", 1, 0, nil)},
	}
	svc := NewCheckoutService(flaky, env.accounts, env.audit, env.audit, Config{}, WithLogger(quietLogger()))

	_, err := svc.Checkout(context.Background(), sale(line("c", 1), line("a", 2), line("b", 3)))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, domain.KindInsufficientStock, domain.KindOf(err))

	assert.Equal(t, []string{"a", "b", "c"}, flaky.reserved)
	assert.Equal(t, []string{"b", "a"}, flaky.released)
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, 5, env.stock(t, id), id)
	}
}

func TestCheckout_LockTimeoutIsStockError(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "a", "1.00", 5)

	flaky := &flakyLedger{
		InventoryLedger: env.ledger,
		failReserve:     map[string]error{"a": domain.ErrLockTimeout},
	}
	svc := NewCheckoutService(flaky, env.accounts, env.audit, env.audit, Config{}, WithLogger(quietLogger()))

	_, err := svc.Checkout(context.Background(), sale(line("a", 1)))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
}

func TestCheckout_RollbackFailureIsReported(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "a", "1.00", 5)
	env.addProduct(t, "b", "1.00", 5)

	storeDown := errors.New("store down")
	flaky := &flakyLedger{
		InventoryLedger: env.ledger,
		failReserve:     map[string]error{"b": domain.StockError("b", 1, 0, nil)},
		failRelease:     storeDown,
	}
	svc := NewCheckoutService(flaky, env.accounts, env.audit, env.audit, Config{}, WithLogger(quietLogger()))

	_, err := svc.Checkout(context.Background(), sale(line("a", 1), line("b", 1)))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.ErrorIs(t, err, domain.ErrRollbackFailed)
	assert.ErrorIs(t, err, storeDown)
	assert.Len(t, flaky.released, releaseAttempts)
}

type failingAudit struct {
	mu      sync.Mutex
	appends int
}

func (f *failingAudit) Append(context.Context, domain.AuditEntry) error {
	f.mu.Lock()
	f.appends++
	f.mu.Unlock()
	return errors.New("disk full")
}

func TestCheckout_AuditFailureKeepsSale(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "P", "10.00", 5)
	audit := &failingAudit{}
	svc := NewCheckoutService(env.ledger, env.accounts, audit, env.audit, Config{}, WithLogger(quietLogger()))

	tx, err := svc.Checkout(context.Background(), sale(line("P", 2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuditWrite)
	require.NotNil(t, tx)
	assert.Equal(t, domain.TransactionCompleted, tx.Status)
	assert.Equal(t, 3, env.stock(t, "P"))
	assert.Equal(t, 1, audit.appends)
}

func TestCheckout_ConcurrentOversell(t *testing.T) {
	env := newTestEnv(t)
	const n = 10
	env.addProduct(t, "hot", "1.00", n-1)

	var success, stockErrs atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Checkout(context.Background(), sale(line("hot", 1)))
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				stockErrs.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n-1), success.Load())
	assert.Equal(t, int32(1), stockErrs.Load())
	assert.Equal(t, 0, env.stock(t, "hot"))
}

func TestCheckout_ConcurrentMixedQuantities(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "hot", "1.00", 10)

	var sold atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.Checkout(context.Background(), sale(line("hot", 3))); err == nil {
				sold.Add(3)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, sold.Load(), int32(10))
	assert.Equal(t, 10-int(sold.Load()), env.stock(t, "hot"))
	assert.GreaterOrEqual(t, env.stock(t, "hot"), 0)
}

func TestCheckout_OverlappingCartsDoNotDeadlock(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "a", "1.00", 1000)
	env.addProduct(t, "b", "1.00", 1000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				req := sale(line("a", 1), line("b", 1))
				if i%2 == 1 {
					req = sale(line("b", 1), line("a", 1))
				}
				_, err := env.svc.Checkout(context.Background(), req)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("checkouts did not finish")
	}
	assert.Equal(t, 900, env.stock(t, "a"))
	assert.Equal(t, 900, env.stock(t, "b"))
}

func TestCheckout_RetryAfterReplenish(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "P", "2.00", 1)

	req := sale(line("P", 2))
	_, err := env.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 1, env.stock(t, "P"))

	require.NoError(t, env.ledger.SetStock(context.Background(), "P", 5, "restock"))

	tx, err := env.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, tx.Status)
	assert.Equal(t, 3, env.stock(t, "P"))
}

func TestCheckout_DuplicateRequest(t *testing.T) {
	env := newTestEnv(t, WithRequestGuard(storage.NewMemoryRequestGuard()))
	env.addProduct(t, "P", "1.00", 10)

	req := sale(line("P", 1))
	req.RequestID = "req-1"

	_, err := env.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	_, err = env.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.Equal(t, 9, env.stock(t, "P"))
}

func TestCheckout_FailedRequestCanBeRetried(t *testing.T) {
	env := newTestEnv(t, WithRequestGuard(storage.NewMemoryRequestGuard()))
	env.addProduct(t, "P", "1.00", 0)

	req := sale(line("P", 1))
	req.RequestID = "req-2"

	_, err := env.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	require.NoError(t, env.ledger.SetStock(context.Background(), "P", 1, "restock"))
	_, err = env.svc.Checkout(context.Background(), req)
	assert.NoError(t, err)
}

type recorderSpy struct {
	mu       sync.Mutex
	outcomes []string
	released int
}

func (r *recorderSpy) ObserveCheckout(status domain.TransactionStatus, kind domain.ErrorKind, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, fmt.Sprintf("%s/%s", status, kind))
}

func (r *recorderSpy) ObserveRollback(released, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released += released
}

func TestCheckout_RecordsOutcomes(t *testing.T) {
	spy := &recorderSpy{}
	env := newTestEnv(t, WithRecorder(spy))
	env.addProduct(t, "P", "1.00", 1)

	_, err := env.svc.Checkout(context.Background(), sale(line("P", 1)))
	require.NoError(t, err)
	_, err = env.svc.Checkout(context.Background(), sale())
	require.Error(t, err)

	assert.Equal(t, []string{"completed/", "failed/EMPTY_CART"}, spy.outcomes)
}

// cancellingLedger cancels the caller's context on the first Reserve.
type cancellingLedger struct {
	port.InventoryLedger
	cancel context.CancelFunc
}

func (c *cancellingLedger) Reserve(ctx context.Context, productID string, quantity int) (*domain.Reservation, error) {
	c.cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.InventoryLedger.Reserve(ctx, productID, quantity)
}

func TestCheckout_CancelledCallerStillCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "a", "1.00", 3)
	env.addProduct(t, "b", "1.00", 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger := &cancellingLedger{InventoryLedger: env.ledger, cancel: cancel}
	svc := NewCheckoutService(ledger, env.accounts, env.audit, env.audit, Config{}, WithLogger(quietLogger()))

	tx, err := svc.Checkout(ctx, sale(line("a", 1), line("b", 1)))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, tx.Status)
	assert.Equal(t, 2, env.stock(t, "a"))
	assert.Equal(t, 2, env.stock(t, "b"))
}
