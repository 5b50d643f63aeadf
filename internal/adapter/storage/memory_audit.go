package storage

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

// MemoryAuditLog is an append-only slice of entries.
type MemoryAuditLog struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	seq     atomic.Int64
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (m *MemoryAuditLog) Append(_ context.Context, entry domain.AuditEntry) error {
	entry.Transaction.Lines = append([]domain.LineItem(nil), entry.Transaction.Lines...)
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryAuditLog) NextInvoice(_ context.Context) (string, error) {
	return domain.InvoiceNumber(m.seq.Add(1)), nil
}

// Entries returns a copy of every entry, oldest first.
func (m *MemoryAuditLog) Entries() []domain.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// MemoryRequestGuard tracks claimed request IDs in process.
type MemoryRequestGuard struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func NewMemoryRequestGuard() *MemoryRequestGuard {
	return &MemoryRequestGuard{claimed: make(map[string]bool)}
}

func (g *MemoryRequestGuard) Claim(_ context.Context, requestID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimed[requestID] {
		return false, nil
	}
	g.claimed[requestID] = true
	return true, nil
}

func (g *MemoryRequestGuard) Forget(_ context.Context, requestID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, requestID)
	return nil
}
