package validation

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

// ValidateInput checks shape and sign of every field of a request. Line
// and amount malformation is reported first, then an empty cart, then the
// payment and identity rules.
func ValidateInput(req domain.CheckoutRequest) error {
	merged := make(map[string]int, len(req.Lines))
	for i, line := range req.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return domain.InvalidInput("line %d: product id is required", i)
		}
		if line.Quantity <= 0 {
			return domain.InvalidInput("line %d: quantity must be > 0, got %d", i, line.Quantity)
		}
		// NormalizeCart sums duplicate lines; the sum must stay an int
		if merged[line.ProductID] > math.MaxInt-line.Quantity {
			return domain.InvalidInput("line %d: total quantity of %s is too large", i, line.ProductID)
		}
		merged[line.ProductID] += line.Quantity
	}
	if req.Discount.IsNegative() {
		return domain.InvalidInput("discount must be >= 0, got %s", req.Discount)
	}
	if !domain.FitsCurrencyUnit(req.Discount) {
		return domain.InvalidInput("discount %s is finer than the currency unit", req.Discount)
	}
	if req.TaxRate.IsNegative() {
		return domain.InvalidInput("tax rate must be >= 0, got %s", req.TaxRate)
	}
	if len(req.Lines) == 0 {
		return domain.EmptyCart()
	}

	method := req.PaymentMethod
	if method == "" {
		method = domain.PaymentCash
	}
	if !method.Valid() {
		return domain.InvalidInput("unknown payment method %q", req.PaymentMethod)
	}
	if method == domain.PaymentCredit && strings.TrimSpace(req.CustomerID) == "" {
		return domain.InvalidInput("credit payment requires a customer")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return domain.InvalidInput("actor is required")
	}
	return nil
}

// NormalizeCart merges duplicate product lines and orders the result by
// product ID, which is also the reservation order.
func NormalizeCart(lines []domain.CartLine) []domain.CartLine {
	merged := make(map[string]int, len(lines))
	for _, l := range lines {
		merged[l.ProductID] += l.Quantity
	}
	out := make([]domain.CartLine, 0, len(merged))
	for id, qty := range merged {
		out = append(out, domain.CartLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// CheckCart runs the input and empty-cart rules.
func CheckCart(req domain.CheckoutRequest) error {
	return ValidateInput(req)
}

// CheckStock is a pre-check against snapshots. The ledger's reservation
// stays the final authority since stock may move after the snapshot.
func CheckStock(lines []domain.CartLine, products map[string]domain.Product) error {
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return domain.InvalidInput("unknown product %s", l.ProductID)
		}
		if l.Quantity > p.Stock {
			return domain.StockError(l.ProductID, l.Quantity, p.Stock, nil)
		}
	}
	return nil
}

// TaxFor applies the rate to the taxable base using RoundMoney.
func TaxFor(base, rate decimal.Decimal) decimal.Decimal {
	return domain.RoundMoney(base.Mul(rate))
}

// Price builds the quote for a normalized cart.
func Price(lines []domain.CartLine, products map[string]domain.Product, discount, taxRate decimal.Decimal) (domain.Quote, error) {
	q := domain.Quote{Lines: make([]domain.LineItem, 0, len(lines))}
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return domain.Quote{}, domain.InvalidInput("unknown product %s", l.ProductID)
		}
		unit := p.SalePrice()
		lineTotal := unit.Mul(decimal.NewFromInt(int64(l.Quantity)))
		q.Lines = append(q.Lines, domain.LineItem{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: unit,
			LineTotal: lineTotal,
		})
		q.Subtotal = q.Subtotal.Add(lineTotal)
	}

	if discount.IsNegative() {
		return domain.Quote{}, domain.InvalidDiscount("discount %s is negative", discount)
	}
	if discount.GreaterThan(q.Subtotal) {
		return domain.Quote{}, domain.InvalidDiscount("discount %s exceeds subtotal %s", discount, q.Subtotal)
	}

	q.Discount = discount
	q.Tax = TaxFor(q.Subtotal.Sub(discount), taxRate)
	q.Total = q.Subtotal.Sub(q.Discount).Add(q.Tax)
	return q, nil
}

// CheckCredit verifies the balance left after a credit sale is allowed.
func CheckCredit(c domain.Customer, total decimal.Decimal, policy domain.CreditPolicy) error {
	after := c.Balance.Sub(total)
	if !policy.Permits(after) {
		return domain.InsufficientCredit(c.ID,
			"balance "+c.Balance.StringFixed(domain.MoneyScale)+" cannot cover "+total.StringFixed(domain.MoneyScale), nil)
	}
	return nil
}
