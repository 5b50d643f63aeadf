package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

type CustomerAccount interface {
	// Debit atomically checks the credit policy and decreases the balance
	Debit(ctx context.Context, customerID string, amount decimal.Decimal) error

	// Credit atomically increases the balance
	Credit(ctx context.Context, customerID string, amount decimal.Decimal) error

	// RegisterOrValidatePhone fails with DuplicatePhoneError when another
	// customer owns the phone
	RegisterOrValidatePhone(ctx context.Context, phone, customerID string) error

	Customer(ctx context.Context, customerID string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, c domain.Customer) error
	UpdatePhone(ctx context.Context, customerID, phone string) error
}
