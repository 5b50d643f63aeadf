package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        string
	Name      string
	Phone     string // normalized, unique across customers
	Balance   decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreditPolicy decides how far a credit sale may take a balance.
type CreditPolicy struct {
	AllowOverdraft bool
	// OverdraftLimit bounds the negative balance when AllowOverdraft is set.
	// Zero means no bound.
	OverdraftLimit decimal.Decimal
}

// Permits reports whether a balance may end at the given value.
func (p CreditPolicy) Permits(balance decimal.Decimal) bool {
	if !balance.IsNegative() {
		return true
	}
	if !p.AllowOverdraft {
		return false
	}
	if p.OverdraftLimit.IsZero() {
		return true
	}
	return balance.GreaterThanOrEqual(p.OverdraftLimit.Neg())
}
