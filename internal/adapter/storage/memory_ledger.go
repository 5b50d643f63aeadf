package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

const defaultLockTimeout = 2 * time.Second

type productSlot struct {
	lock    entityLock
	product domain.Product
}

// MemoryLedger keeps products in process. Each product has its own lock,
// so checkouts on disjoint products never wait on each other.
type MemoryLedger struct {
	mu          sync.RWMutex
	slots       map[string]*productSlot
	lockTimeout time.Duration

	movMu     sync.Mutex
	movements []domain.StockMovement
}

func NewMemoryLedger(lockTimeout time.Duration) *MemoryLedger {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &MemoryLedger{
		slots:       make(map[string]*productSlot),
		lockTimeout: lockTimeout,
	}
}

func (m *MemoryLedger) slot(productID string) (*productSlot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[productID]
	return s, ok
}

func (m *MemoryLedger) Reserve(ctx context.Context, productID string, quantity int) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, domain.InvalidInput("reserve quantity must be > 0, got %d", quantity)
	}
	s, ok := m.slot(productID)
	if !ok {
		return nil, domain.StockError(productID, quantity, -1, domain.ErrProductNotFound)
	}
	if err := s.lock.acquire(ctx, m.lockTimeout); err != nil {
		return nil, domain.StockError(productID, quantity, -1, err)
	}
	defer s.lock.release()

	if s.product.Stock < quantity {
		return nil, domain.StockError(productID, quantity, s.product.Stock, nil)
	}
	s.product.Stock -= quantity
	s.product.Version++
	s.product.UpdatedAt = time.Now()

	return domain.NewReservation(uuid.NewString(), productID, quantity, s.product.Version), nil
}

func (m *MemoryLedger) Commit(_ context.Context, r *domain.Reservation) error {
	return r.Settle(domain.ReservationCommitted)
}

func (m *MemoryLedger) Release(ctx context.Context, r *domain.Reservation) error {
	if err := r.Settle(domain.ReservationReleased); err != nil {
		return err
	}
	s, ok := m.slot(r.ProductID)
	if !ok {
		r.Unsettle()
		return fmt.Errorf("release %s: %w", r.ProductID, domain.ErrProductNotFound)
	}
	if err := s.lock.acquire(ctx, m.lockTimeout); err != nil {
		r.Unsettle()
		return fmt.Errorf("release %s: %w", r.ProductID, err)
	}
	defer s.lock.release()

	s.product.Stock += r.Quantity
	s.product.Version++
	s.product.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryLedger) Products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		s, ok := m.slot(id)
		if !ok {
			continue
		}
		if err := s.lock.acquire(ctx, m.lockTimeout); err != nil {
			return nil, fmt.Errorf("read product %s: %w", id, err)
		}
		out[id] = s.product
		s.lock.release()
	}
	return out, nil
}

func (m *MemoryLedger) UpsertProduct(ctx context.Context, p domain.Product) error {
	if p.Stock < 0 || p.Price.IsNegative() || p.Cost.IsNegative() {
		return domain.InvalidInput("product %s: stock, price and cost must be >= 0", p.ID)
	}
	if err := checkMoney(&p.Price, &p.Cost); err != nil {
		return err
	}

	m.mu.Lock()
	s, ok := m.slots[p.ID]
	if !ok {
		p.UpdatedAt = time.Now()
		m.slots[p.ID] = &productSlot{lock: newEntityLock(), product: p}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := s.lock.acquire(ctx, m.lockTimeout); err != nil {
		return fmt.Errorf("upsert %s: %w", p.ID, err)
	}
	defer s.lock.release()
	p.Version = s.product.Version + 1
	p.UpdatedAt = time.Now()
	s.product = p
	return nil
}

func (m *MemoryLedger) SetStock(ctx context.Context, productID string, quantity int, reason string) error {
	if quantity < 0 {
		return domain.InvalidInput("stock must be >= 0, got %d", quantity)
	}
	s, ok := m.slot(productID)
	if !ok {
		return fmt.Errorf("set stock %s: %w", productID, domain.ErrProductNotFound)
	}
	if err := s.lock.acquire(ctx, m.lockTimeout); err != nil {
		return fmt.Errorf("set stock %s: %w", productID, err)
	}
	delta := quantity - s.product.Stock
	s.product.Stock = quantity
	s.product.Version++
	s.product.UpdatedAt = time.Now()
	s.lock.release()

	m.recordMovement(productID, delta, reason)
	return nil
}

func (m *MemoryLedger) AdjustPriceOrCost(ctx context.Context, productID string, price, cost *decimal.Decimal) error {
	if (price != nil && price.IsNegative()) || (cost != nil && cost.IsNegative()) {
		return domain.InvalidInput("price and cost must be >= 0")
	}
	if err := checkMoney(price, cost); err != nil {
		return err
	}
	s, ok := m.slot(productID)
	if !ok {
		return fmt.Errorf("adjust %s: %w", productID, domain.ErrProductNotFound)
	}
	if err := s.lock.acquire(ctx, m.lockTimeout); err != nil {
		return fmt.Errorf("adjust %s: %w", productID, err)
	}
	defer s.lock.release()

	if price != nil {
		s.product.Price = *price
	}
	if cost != nil {
		s.product.Cost = *cost
	}
	s.product.UpdatedAt = time.Now()
	return nil
}

// Product returns a snapshot of one product.
func (m *MemoryLedger) Product(productID string) (domain.Product, bool) {
	got, _ := m.Products(context.Background(), []string{productID})
	p, ok := got[productID]
	return p, ok
}

// Movements returns recorded admin stock changes, oldest first.
func (m *MemoryLedger) Movements() []domain.StockMovement {
	m.movMu.Lock()
	defer m.movMu.Unlock()
	out := make([]domain.StockMovement, len(m.movements))
	copy(out, m.movements)
	return out
}

// ProductIDs lists known products in ascending order.
func (m *MemoryLedger) ProductIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryLedger) recordMovement(productID string, delta int, reason string) {
	if delta == 0 {
		return
	}
	mv := domain.StockMovement{
		ProductID: productID,
		Direction: domain.MovementIn,
		Quantity:  delta,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	if delta < 0 {
		mv.Direction = domain.MovementOut
		mv.Quantity = -delta
	}
	m.movMu.Lock()
	m.movements = append(m.movements, mv)
	m.movMu.Unlock()
}

// checkMoney rejects amounts finer than the currency unit; nil is skipped.
func checkMoney(amounts ...*decimal.Decimal) error {
	for _, a := range amounts {
		if a != nil && !domain.FitsCurrencyUnit(*a) {
			return domain.InvalidInput("amount %s is finer than the currency unit", a)
		}
	}
	return nil
}
