package handler

import (
	"context"
	"time"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/core/validation"
)

// Checkouter runs one checkout.
type Checkouter interface {
	Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Transaction, error)
}

// CheckoutRequest is the wire form shared by HTTP and gRPC. Amounts are
// decimal strings so no precision is lost in transit.
type CheckoutRequest struct {
	RequestID     string     `json:"request_id"`
	Items         []CartItem `json:"items"`
	CustomerID    string     `json:"customer_id,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Discount      string     `json:"discount,omitempty"`
	TaxRate       string     `json:"tax_rate,omitempty"`
	Actor         string     `json:"actor"`
	Terminal      string     `json:"terminal,omitempty"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CheckoutResponse struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
	Kind        string       `json:"kind,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

type Transaction struct {
	ID            string     `json:"id"`
	InvoiceNo     string     `json:"invoice_no"`
	CreatedAt     time.Time  `json:"created_at"`
	CustomerID    string     `json:"customer_id,omitempty"`
	PaymentMethod string     `json:"payment_method"`
	Lines         []LineItem `json:"lines"`
	Subtotal      string     `json:"subtotal"`
	Discount      string     `json:"discount"`
	Tax           string     `json:"tax"`
	Total         string     `json:"total"`
	Status        string     `json:"status"`
}

type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

func (r *CheckoutRequest) toDomain() (domain.CheckoutRequest, error) {
	discount, err := validation.ParseAmount("discount", r.Discount)
	if err != nil {
		return domain.CheckoutRequest{}, err
	}
	rate, err := validation.ParseRate("tax_rate", r.TaxRate)
	if err != nil {
		return domain.CheckoutRequest{}, err
	}

	lines := make([]domain.CartLine, len(r.Items))
	for i, it := range r.Items {
		lines[i] = domain.CartLine{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return domain.CheckoutRequest{
		RequestID:     r.RequestID,
		Lines:         lines,
		CustomerID:    r.CustomerID,
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
		Discount:      discount,
		TaxRate:       rate,
		Actor:         r.Actor,
		Terminal:      r.Terminal,
	}, nil
}

func fromTransaction(tx *domain.Transaction) *Transaction {
	if tx == nil {
		return nil
	}
	out := &Transaction{
		ID:            tx.ID,
		InvoiceNo:     tx.InvoiceNo,
		CreatedAt:     tx.CreatedAt.UTC(),
		CustomerID:    tx.CustomerID,
		PaymentMethod: string(tx.PaymentMethod),
		Lines:         make([]LineItem, 0, len(tx.Lines)),
		Subtotal:      tx.Subtotal.StringFixed(domain.MoneyScale),
		Discount:      tx.Discount.StringFixed(domain.MoneyScale),
		Tax:           tx.Tax.StringFixed(domain.MoneyScale),
		Total:         tx.Total.StringFixed(domain.MoneyScale),
		Status:        string(tx.Status),
	}
	for _, l := range tx.Lines {
		out.Lines = append(out.Lines, LineItem{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(domain.MoneyScale),
			LineTotal: l.LineTotal.StringFixed(domain.MoneyScale),
		})
	}
	return out
}

// RunCheckout converts, runs and renders one checkout. The returned error
// is set only for failures that carry no checkout error kind.
func RunCheckout(ctx context.Context, svc Checkouter, req *CheckoutRequest) (resp CheckoutResponse, internalErr error) {
	in, err := req.toDomain()
	if err == nil {
		var tx *domain.Transaction
		tx, err = svc.Checkout(ctx, in)
		if tx != nil {
			resp.Transaction = fromTransaction(tx)
		}
	}

	if err == nil {
		resp.Success = true
		resp.Message = "checkout completed"
		return resp, nil
	}

	kind := domain.KindOf(err)
	resp.Kind = string(kind)
	switch kind {
	case "":
		resp.Message = "internal error"
		return resp, err
	case domain.KindAuditWrite:
		// the sale went through; only its audit record is missing
		resp.Success = true
		resp.Message = "checkout completed, audit record pending"
	default:
		resp.Message = err.Error()
	}
	return resp, nil
}
