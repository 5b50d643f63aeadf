package domain

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID              string
	Name            string
	Price           decimal.Decimal
	Cost            decimal.Decimal
	Stock           int
	MinStock        int
	DiscountPercent decimal.Decimal // optional, 0..100
	Version         int64           // optimistic locking, bumped on every stock mutation
	UpdatedAt       time.Time
}

// LowStock reports whether stock has dropped to or below the reorder threshold.
func (p Product) LowStock() bool {
	return p.MinStock > 0 && p.Stock <= p.MinStock
}

// SalePrice is the unit price after the per-product discount.
func (p Product) SalePrice() decimal.Decimal {
	if p.DiscountPercent.IsZero() {
		return RoundMoney(p.Price)
	}
	off := p.Price.Mul(p.DiscountPercent).Div(decimal.NewFromInt(100))
	return RoundMoney(p.Price.Sub(off))
}

type ReservationState uint32

const (
	ReservationPending ReservationState = iota
	ReservationCommitted
	ReservationReleased
)

func (s ReservationState) String() string {
	switch s {
	case ReservationPending:
		return "pending"
	case ReservationCommitted:
		return "committed"
	case ReservationReleased:
		return "released"
	}
	return "unknown"
}

// Reservation is a token for a stock decrement that has already been
// applied. It is settled exactly once, by commit or release.
type Reservation struct {
	ID        string
	ProductID string
	Quantity  int
	Version   int64 // product version right after the decrement
	CreatedAt time.Time

	state atomic.Uint32
}

func NewReservation(id, productID string, quantity int, version int64) *Reservation {
	return &Reservation{
		ID:        id,
		ProductID: productID,
		Quantity:  quantity,
		Version:   version,
		CreatedAt: time.Now(),
	}
}

func (r *Reservation) State() ReservationState {
	return ReservationState(r.state.Load())
}

// Settle moves a pending reservation to its terminal state. A second
// settle fails with ErrReservationSettled.
func (r *Reservation) Settle(to ReservationState) error {
	if r.state.CompareAndSwap(uint32(ReservationPending), uint32(to)) {
		return nil
	}
	return &ReservationError{ReservationID: r.ID, ProductID: r.ProductID, State: r.State()}
}

// Unsettle puts a reservation back to pending after a release that failed
// in storage, so the release can be attempted again.
func (r *Reservation) Unsettle() {
	r.state.Store(uint32(ReservationPending))
}

type MovementDirection string

const (
	MovementIn  MovementDirection = "in"
	MovementOut MovementDirection = "out"
)

type StockMovement struct {
	ProductID string
	Direction MovementDirection
	Quantity  int
	Reason    string
	CreatedAt time.Time
}
