package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/core/validation"
	"github.com/rl1809/pos-checkout/internal/port"
)

const (
	defaultOperationTimeout = 3 * time.Second
	defaultRollbackTimeout  = 10 * time.Second
	releaseAttempts         = 3
)

// Stage is a state of the checkout state machine.
type Stage string

const (
	StageValidating  Stage = "validating"
	StageReserving   Stage = "reserving"
	StageSettling    Stage = "settling"
	StageRecording   Stage = "recording"
	StageCompleted   Stage = "completed"
	StageRollingBack Stage = "rolling_back"
	StageFailed      Stage = "failed"
)

// Recorder receives checkout outcomes, typically for metrics.
type Recorder interface {
	ObserveCheckout(status domain.TransactionStatus, kind domain.ErrorKind, elapsed time.Duration)
	ObserveRollback(released, failed int)
}

type Config struct {
	// OperationTimeout bounds every single storage call
	OperationTimeout time.Duration
	// RollbackTimeout bounds the whole rollback of one checkout
	RollbackTimeout time.Duration
	CreditPolicy    domain.CreditPolicy
}

type CheckoutService struct {
	inventory port.InventoryLedger
	accounts  port.CustomerAccount
	audit     port.AuditLog
	invoices  port.InvoiceSequence
	guard     port.RequestGuard
	recorder  Recorder
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

type Option func(*CheckoutService)

func WithRequestGuard(g port.RequestGuard) Option {
	return func(s *CheckoutService) { s.guard = g }
}

func WithRecorder(r Recorder) Option {
	return func(s *CheckoutService) { s.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *CheckoutService) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *CheckoutService) { s.now = now }
}

func NewCheckoutService(
	inventory port.InventoryLedger,
	accounts port.CustomerAccount,
	audit port.AuditLog,
	invoices port.InvoiceSequence,
	cfg Config,
	opts ...Option,
) *CheckoutService {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if cfg.RollbackTimeout <= 0 {
		cfg.RollbackTimeout = defaultRollbackTimeout
	}
	s := &CheckoutService{
		inventory: inventory,
		accounts:  accounts,
		audit:     audit,
		invoices:  invoices,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run is the state of one checkout call.
type run struct {
	id           string
	req          domain.CheckoutRequest
	stage        Stage
	started      time.Time
	lines        []domain.CartLine
	products     map[string]domain.Product
	quote        *domain.Quote
	reservations []*domain.Reservation
	log          *slog.Logger
}

func (r *run) enter(stage Stage) {
	r.log.Debug("checkout stage", "step", string(r.stage), "next", string(stage))
	r.stage = stage
}

// Checkout runs one sale to a terminal state. A completed sale returns its
// transaction; when only the audit append failed the transaction is
// returned together with an AUDIT_WRITE error. Any other failure returns a
// typed error and leaves stock and credit as they were.
func (s *CheckoutService) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Transaction, error) {
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}

	r := &run{
		id:      uuid.NewString(),
		req:     req,
		stage:   StageValidating,
		started: s.now(),
	}
	r.log = s.logger.With("txid", r.id, "actor", req.Actor, "terminal", req.Terminal)

	if req.RequestID != "" && s.guard != nil {
		ok, err := s.guard.Claim(ctx, req.RequestID)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.DuplicateRequest(req.RequestID)
		}
	}

	tx, err := s.execute(ctx, r)
	if tx == nil && err != nil && req.RequestID != "" && s.guard != nil {
		if ferr := s.guard.Forget(context.WithoutCancel(ctx), req.RequestID); ferr != nil {
			r.log.Warn("failed to release request id", "request_id", req.RequestID, "error", ferr)
		}
	}
	return tx, err
}

func (s *CheckoutService) execute(ctx context.Context, r *run) (*domain.Transaction, error) {
	if err := s.validate(ctx, r); err != nil {
		return nil, s.fail(ctx, r, err)
	}

	// From here on the caller can no longer cancel; every call is bounded
	// by its own timeout instead.
	work := context.WithoutCancel(ctx)

	r.enter(StageReserving)
	for _, line := range r.lines {
		res, err := s.reserve(work, line)
		if err != nil {
			return nil, s.fail(ctx, r, s.rollback(work, r, err))
		}
		r.reservations = append(r.reservations, res)
	}

	if r.req.PaymentMethod == domain.PaymentCredit {
		r.enter(StageSettling)
		if err := s.settle(work, r); err != nil {
			return nil, s.fail(ctx, r, s.rollback(work, r, err))
		}
	}

	r.enter(StageRecording)
	return s.record(work, r)
}

func (s *CheckoutService) validate(ctx context.Context, r *run) error {
	if err := validation.CheckCart(r.req); err != nil {
		return err
	}
	r.lines = validation.NormalizeCart(r.req.Lines)

	ids := make([]string, len(r.lines))
	for i, l := range r.lines {
		ids[i] = l.ProductID
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	products, err := s.inventory.Products(opCtx, ids)
	cancel()
	if err != nil {
		return &domain.CheckoutError{Kind: domain.KindInsufficientStock, Message: "inventory unavailable", Cause: err}
	}
	r.products = products

	if err := validation.CheckStock(r.lines, products); err != nil {
		return err
	}
	quote, err := validation.Price(r.lines, products, r.req.Discount, r.req.TaxRate)
	if err != nil {
		return err
	}
	r.quote = &quote

	if r.req.CustomerID == "" {
		return nil
	}
	opCtx, cancel = context.WithTimeout(ctx, s.cfg.OperationTimeout)
	customer, err := s.accounts.Customer(opCtx, r.req.CustomerID)
	cancel()
	if errors.Is(err, domain.ErrCustomerNotFound) {
		return domain.InvalidInput("unknown customer %s", r.req.CustomerID)
	}
	if err != nil {
		return domain.InsufficientCredit(r.req.CustomerID, "balance unavailable", err)
	}
	if r.req.PaymentMethod == domain.PaymentCredit {
		return validation.CheckCredit(*customer, quote.Total, s.cfg.CreditPolicy)
	}
	return nil
}

func (s *CheckoutService) reserve(ctx context.Context, line domain.CartLine) (*domain.Reservation, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	res, err := s.inventory.Reserve(opCtx, line.ProductID, line.Quantity)
	if err != nil {
		if domain.KindOf(err) == "" {
			err = domain.StockError(line.ProductID, line.Quantity, -1, err)
		}
		return nil, err
	}
	return res, nil
}

func (s *CheckoutService) settle(ctx context.Context, r *run) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	err := s.accounts.Debit(opCtx, r.req.CustomerID, r.quote.Total)
	if err != nil && domain.KindOf(err) == "" {
		err = domain.InsufficientCredit(r.req.CustomerID, "debit failed", err)
	}
	return err
}

// rollback releases every reservation taken so far, newest first, and
// returns cause joined with any release that could not be undone.
func (s *CheckoutService) rollback(ctx context.Context, r *run, cause error) error {
	r.enter(StageRollingBack)
	if len(r.reservations) == 0 {
		return cause
	}

	rbCtx, cancel := context.WithTimeout(ctx, s.cfg.RollbackTimeout)
	defer cancel()

	var failed []error
	released := 0
	for i := len(r.reservations) - 1; i >= 0; i-- {
		res := r.reservations[i]
		var err error
		for attempt := 0; attempt < releaseAttempts; attempt++ {
			if err = s.inventory.Release(rbCtx, res); err == nil || errors.Is(err, domain.ErrReservationSettled) {
				break
			}
		}
		if err != nil {
			r.log.Error("CRITICAL rollback failed",
				"product_id", res.ProductID, "quantity", res.Quantity, "reservation", res.ID, "error", err)
			failed = append(failed, err)
			continue
		}
		released++
	}
	r.reservations = nil

	if s.recorder != nil {
		s.recorder.ObserveRollback(released, len(failed))
	}
	if len(failed) > 0 {
		return errors.Join(append([]error{cause, domain.ErrRollbackFailed}, failed...)...)
	}
	r.log.Info("rolled back reservations", "released", released)
	return cause
}

func (s *CheckoutService) record(ctx context.Context, r *run) (*domain.Transaction, error) {
	for _, res := range r.reservations {
		if err := s.inventory.Commit(ctx, res); err != nil {
			r.log.Error("commit reservation", "reservation", res.ID, "error", err)
		}
	}

	tx := s.transaction(r, domain.TransactionCompleted, nil)

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	invoice, err := s.invoices.NextInvoice(opCtx)
	cancel()
	if err != nil {
		return s.complete(r, tx, domain.AuditWrite(tx.ID, fmt.Errorf("assign invoice: %w", err)))
	}
	tx.InvoiceNo = invoice

	opCtx, cancel = context.WithTimeout(ctx, s.cfg.OperationTimeout)
	err = s.audit.Append(opCtx, s.entry(r, *tx, ""))
	cancel()
	if err != nil {
		return s.complete(r, tx, domain.AuditWrite(tx.ID, err))
	}
	return s.complete(r, tx, nil)
}

func (s *CheckoutService) complete(r *run, tx *domain.Transaction, auditErr error) (*domain.Transaction, error) {
	r.enter(StageCompleted)
	elapsed := s.now().Sub(r.started)

	kind := domain.ErrorKind("")
	if auditErr != nil {
		kind = domain.KindAuditWrite
		r.log.Error("sale committed without audit entry, reconcile required",
			"invoice_no", tx.InvoiceNo, "total", tx.Total.StringFixed(domain.MoneyScale), "error", auditErr)
	}
	if s.recorder != nil {
		s.recorder.ObserveCheckout(domain.TransactionCompleted, kind, elapsed)
	}

	r.log.Info("checkout completed",
		"status", string(domain.TransactionCompleted),
		"invoice_no", tx.InvoiceNo,
		"total", tx.Total.StringFixed(domain.MoneyScale),
		"duration_ms", elapsed.Milliseconds())
	for _, l := range r.lines {
		p := r.products[l.ProductID]
		p.Stock -= l.Quantity
		if p.LowStock() {
			r.log.Warn("low stock", "product_id", p.ID, "stock", p.Stock, "min_stock", p.MinStock)
		}
	}

	if auditErr != nil {
		return tx, auditErr
	}
	return tx, nil
}

// fail records a failed checkout and returns err unchanged.
func (s *CheckoutService) fail(ctx context.Context, r *run, err error) error {
	from := r.stage
	r.enter(StageFailed)
	kind := domain.KindOf(err)
	elapsed := s.now().Sub(r.started)

	tx := s.transaction(r, domain.TransactionFailed, err)
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OperationTimeout)
	if aerr := s.audit.Append(opCtx, s.entry(r, *tx, kind)); aerr != nil {
		r.log.Error("failed to audit failed checkout", "error", aerr)
	}
	cancel()

	if s.recorder != nil {
		s.recorder.ObserveCheckout(domain.TransactionFailed, kind, elapsed)
	}
	r.log.Info("checkout failed",
		"status", string(domain.TransactionFailed),
		"step", string(from),
		"kind", string(kind),
		"duration_ms", elapsed.Milliseconds(),
		"error", err)
	return err
}

func (s *CheckoutService) transaction(r *run, status domain.TransactionStatus, cause error) *domain.Transaction {
	tx := &domain.Transaction{
		ID:            r.id,
		RequestID:     r.req.RequestID,
		CreatedAt:     r.started,
		CustomerID:    r.req.CustomerID,
		PaymentMethod: r.req.PaymentMethod,
		Status:        status,
		Actor:         r.req.Actor,
	}
	if cause != nil {
		tx.Reason = cause.Error()
	}

	if r.quote != nil {
		tx.Lines = append([]domain.LineItem(nil), r.quote.Lines...)
		tx.Subtotal = r.quote.Subtotal
		tx.Discount = r.quote.Discount
		tx.Tax = r.quote.Tax
		tx.Total = r.quote.Total
		return tx
	}
	for _, l := range r.req.Lines {
		tx.Lines = append(tx.Lines, domain.LineItem{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return tx
}

func (s *CheckoutService) entry(r *run, tx domain.Transaction, kind domain.ErrorKind) domain.AuditEntry {
	return domain.AuditEntry{
		Transaction: tx,
		Actor:       r.req.Actor,
		Terminal:    r.req.Terminal,
		ErrorKind:   kind,
		RecordedAt:  s.now(),
	}
}
