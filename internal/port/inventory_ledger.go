package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

type InventoryLedger interface {
	// Reserve atomically checks stock >= quantity and decrements it.
	// Insufficient stock is reported as a StockError.
	Reserve(ctx context.Context, productID string, quantity int) (*domain.Reservation, error)

	// Commit settles a reservation, leaving the decrement in place
	Commit(ctx context.Context, r *domain.Reservation) error

	// Release restores the reserved quantity (for rollback on failure)
	Release(ctx context.Context, r *domain.Reservation) error

	// Products returns snapshots for the known IDs; unknown IDs are absent
	Products(ctx context.Context, ids []string) (map[string]domain.Product, error)

	// UpsertProduct creates or replaces a product's catalog fields
	UpsertProduct(ctx context.Context, p domain.Product) error

	// SetStock overwrites stock outside the checkout flow
	SetStock(ctx context.Context, productID string, quantity int, reason string) error

	// AdjustPriceOrCost updates pricing; nil leaves a field unchanged
	AdjustPriceOrCost(ctx context.Context, productID string, price, cost *decimal.Decimal) error
}
