package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentCredit PaymentMethod = "credit"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentCredit:
		return true
	}
	return false
}

type CartLine struct {
	ProductID string
	Quantity  int
}

type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// LineItem is a cart line priced at sale time.
type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

type Transaction struct {
	ID            string
	InvoiceNo     string
	RequestID     string
	CreatedAt     time.Time
	CustomerID    string
	PaymentMethod PaymentMethod
	Lines         []LineItem
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	Status        TransactionStatus
	Reason        string
	Actor         string
}

// AuditEntry mirrors a finished transaction. It is written once and never
// updated.
type AuditEntry struct {
	Transaction Transaction
	Actor       string
	Terminal    string
	ErrorKind   ErrorKind
	RecordedAt  time.Time
}

// InvoiceNumber formats a sequence number the way receipts print it.
func InvoiceNumber(seq int64) string {
	return fmt.Sprintf("INV-%05d", seq)
}

// CheckoutRequest carries everything a checkout needs; nothing is asked of
// the terminal once it is submitted.
type CheckoutRequest struct {
	RequestID     string
	Lines         []CartLine
	CustomerID    string
	PaymentMethod PaymentMethod
	Discount      decimal.Decimal
	TaxRate       decimal.Decimal
	Actor         string
	Terminal      string
}

// Quote is the priced form of a cart.
type Quote struct {
	Lines    []LineItem
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}
