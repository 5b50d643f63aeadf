package port

import (
	"context"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

type AuditLog interface {
	// Append writes an entry; entries are never updated or deleted
	Append(ctx context.Context, entry domain.AuditEntry) error
}

type InvoiceSequence interface {
	// NextInvoice returns the next receipt number
	NextInvoice(ctx context.Context) (string, error)
}

type RequestGuard interface {
	// Claim marks a request ID as in use, returns false if already claimed
	Claim(ctx context.Context, requestID string) (bool, error)

	// Forget drops a claim so a failed request may be retried
	Forget(ctx context.Context, requestID string) error
}
