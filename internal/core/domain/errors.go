package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes checkout failures so callers can render an
// actionable message.
type ErrorKind string

const (
	KindInvalidInput       ErrorKind = "INVALID_INPUT"
	KindEmptyCart          ErrorKind = "EMPTY_CART"
	KindInvalidDiscount    ErrorKind = "INVALID_DISCOUNT"
	KindInsufficientStock  ErrorKind = "INSUFFICIENT_STOCK"
	KindInsufficientCredit ErrorKind = "INSUFFICIENT_CREDIT"
	KindDuplicatePhone     ErrorKind = "DUPLICATE_PHONE"
	KindAuditWrite         ErrorKind = "AUDIT_WRITE"
	KindDuplicateRequest   ErrorKind = "DUPLICATE_REQUEST"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmptyCart          = errors.New("empty cart")
	ErrInvalidDiscount    = errors.New("invalid discount")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrDuplicatePhone     = errors.New("duplicate phone")
	ErrAuditWrite         = errors.New("audit write failed")
	ErrDuplicateRequest   = errors.New("duplicate request")

	ErrProductNotFound  = errors.New("product not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrOptimisticLock   = errors.New("optimistic lock conflict")
	ErrLockTimeout      = errors.New("lock acquisition timed out")
	ErrRollbackFailed   = errors.New("rollback incomplete")
)

var sentinels = map[ErrorKind]error{
	KindInvalidInput:       ErrInvalidInput,
	KindEmptyCart:          ErrEmptyCart,
	KindInvalidDiscount:    ErrInvalidDiscount,
	KindInsufficientStock:  ErrInsufficientStock,
	KindInsufficientCredit: ErrInsufficientCredit,
	KindDuplicatePhone:     ErrDuplicatePhone,
	KindAuditWrite:         ErrAuditWrite,
	KindDuplicateRequest:   ErrDuplicateRequest,
}

// CheckoutError is the typed failure returned by the checkout engine and
// the ledgers. It matches its kind's sentinel with errors.Is.
type CheckoutError struct {
	Kind       ErrorKind
	Message    string
	ProductID  string
	CustomerID string
	Cause      error
}

func (e *CheckoutError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	switch {
	case e.ProductID != "":
		msg += fmt.Sprintf(" (product=%s)", e.ProductID)
	case e.CustomerID != "":
		msg += fmt.Sprintf(" (customer=%s)", e.CustomerID)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CheckoutError) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// KindOf returns the kind of the first CheckoutError in err's chain, or
// the empty kind.
func KindOf(err error) ErrorKind {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func InvalidInput(format string, args ...any) *CheckoutError {
	return &CheckoutError{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func EmptyCart() *CheckoutError {
	return &CheckoutError{Kind: KindEmptyCart, Message: "cart has no lines"}
}

func InvalidDiscount(format string, args ...any) *CheckoutError {
	return &CheckoutError{Kind: KindInvalidDiscount, Message: fmt.Sprintf(format, args...)}
}

func StockError(productID string, requested, available int, cause error) *CheckoutError {
	msg := fmt.Sprintf("requested %d, available %d", requested, available)
	if available < 0 {
		msg = fmt.Sprintf("requested %d", requested)
	}
	return &CheckoutError{Kind: KindInsufficientStock, Message: msg, ProductID: productID, Cause: cause}
}

func InsufficientCredit(customerID, message string, cause error) *CheckoutError {
	return &CheckoutError{Kind: KindInsufficientCredit, Message: message, CustomerID: customerID, Cause: cause}
}

func DuplicatePhone(phone, ownerID string) *CheckoutError {
	return &CheckoutError{
		Kind:       KindDuplicatePhone,
		Message:    fmt.Sprintf("phone %s already registered", phone),
		CustomerID: ownerID,
	}
}

func AuditWrite(transactionID string, cause error) *CheckoutError {
	return &CheckoutError{
		Kind:    KindAuditWrite,
		Message: fmt.Sprintf("transaction %s committed but not recorded", transactionID),
		Cause:   cause,
	}
}

func DuplicateRequest(requestID string) *CheckoutError {
	return &CheckoutError{Kind: KindDuplicateRequest, Message: fmt.Sprintf("request %s already seen", requestID)}
}

// ReservationError reports a second settle of the same reservation.
type ReservationError struct {
	ReservationID string
	ProductID     string
	State         ReservationState
}

var ErrReservationSettled = errors.New("reservation already settled")

func (e *ReservationError) Error() string {
	return fmt.Sprintf("reservation %s for product %s already %s", e.ReservationID, e.ProductID, e.State)
}

func (e *ReservationError) Unwrap() error { return ErrReservationSettled }
