package validation

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

const (
	minPhoneDigits = 5
	maxPhoneDigits = 15
)

// ParseAmount parses a non-negative money amount.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := parseNonNegative(field, raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !domain.FitsCurrencyUnit(d) {
		return decimal.Zero, domain.InvalidInput("%s: %s is finer than the currency unit", field, raw)
	}
	return d, nil
}

// ParseRate parses a non-negative rate such as 0.10.
func ParseRate(field, raw string) (decimal.Decimal, error) {
	return parseNonNegative(field, raw)
}

func parseNonNegative(field, raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.InvalidInput("%s: %q is not a number", field, raw)
	}
	if d.IsNegative() {
		return decimal.Zero, domain.InvalidInput("%s must be >= 0, got %s", field, raw)
	}
	return d, nil
}

// ParseCartLine parses "<product>:<qty>"; a bare product ID means qty 1.
func ParseCartLine(raw string) (domain.CartLine, error) {
	id, qtyText, found := strings.Cut(strings.TrimSpace(raw), ":")
	if !found {
		qtyText = "1"
	}
	qty, err := strconv.Atoi(strings.TrimSpace(qtyText))
	if err != nil {
		return domain.CartLine{}, domain.InvalidInput("line %q: quantity %q is not an integer", raw, qtyText)
	}
	line := domain.CartLine{ProductID: strings.TrimSpace(id), Quantity: qty}
	if line.ProductID == "" || line.Quantity <= 0 {
		return domain.CartLine{}, domain.InvalidInput("line %q: need product id and quantity > 0", raw)
	}
	return line, nil
}

// NormalizePhone folds width variants (full-width digits typed on some
// terminals) and strips separators. An empty phone stays empty.
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	if s == "" {
		return "", nil
	}

	var b strings.Builder
	digits := 0
	for i, r := range s {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", domain.InvalidInput("phone %q has unexpected character %q", raw, r)
		}
	}
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return "", domain.InvalidInput("phone %q must have %d-%d digits", raw, minPhoneDigits, maxPhoneDigits)
	}
	return b.String(), nil
}

// CheckPhoneUnique compares a normalized phone's current owner against the
// customer claiming it. An empty owner means the phone is free.
func CheckPhoneUnique(phone, customerID, ownerID string) error {
	if phone == "" || ownerID == "" || ownerID == customerID {
		return nil
	}
	return domain.DuplicatePhone(phone, ownerID)
}
