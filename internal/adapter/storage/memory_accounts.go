package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/core/validation"
)

type customerSlot struct {
	lock     entityLock
	customer domain.Customer
}

// MemoryAccounts keeps customer balances in process with one lock per
// customer and a phone index guarded separately.
type MemoryAccounts struct {
	mu          sync.RWMutex
	slots       map[string]*customerSlot
	policy      domain.CreditPolicy
	lockTimeout time.Duration

	phoneMu sync.Mutex
	phones  map[string]string // normalized phone -> customer ID
}

func NewMemoryAccounts(policy domain.CreditPolicy, lockTimeout time.Duration) *MemoryAccounts {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &MemoryAccounts{
		slots:       make(map[string]*customerSlot),
		policy:      policy,
		lockTimeout: lockTimeout,
		phones:      make(map[string]string),
	}
}

func (m *MemoryAccounts) slot(id string) (*customerSlot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[id]
	return s, ok
}

func (m *MemoryAccounts) Debit(ctx context.Context, customerID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.InvalidInput("debit amount must be >= 0, got %s", amount)
	}
	s, ok := m.slot(customerID)
	if !ok {
		return domain.InsufficientCredit(customerID, "unknown customer", domain.ErrCustomerNotFound)
	}
	if err := s.lock.acquire(ctx, m.lockTimeout); err != nil {
		return domain.InsufficientCredit(customerID, "balance unavailable", err)
	}
	defer s.lock.release()

	after := s.customer.Balance.Sub(amount)
	if !m.policy.Permits(after) {
		return domain.InsufficientCredit(customerID,
			fmt.Sprintf("balance %s cannot cover %s", s.customer.Balance.StringFixed(domain.MoneyScale), amount.StringFixed(domain.MoneyScale)), nil)
	}
	s.customer.Balance = after
	s.customer.Version++
	s.customer.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryAccounts) Credit(ctx context.Context, customerID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.InvalidInput("credit amount must be >= 0, got %s", amount)
	}
	s, ok := m.slot(customerID)
	if !ok {
		return fmt.Errorf("credit %s: %w", customerID, domain.ErrCustomerNotFound)
	}
	if err := s.lock.acquire(ctx, m.lockTimeout); err != nil {
		return fmt.Errorf("credit %s: %w", customerID, err)
	}
	defer s.lock.release()

	s.customer.Balance = s.customer.Balance.Add(amount)
	s.customer.Version++
	s.customer.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryAccounts) RegisterOrValidatePhone(_ context.Context, phone, customerID string) error {
	normalized, err := validation.NormalizePhone(phone)
	if err != nil {
		return err
	}
	m.phoneMu.Lock()
	defer m.phoneMu.Unlock()
	return validation.CheckPhoneUnique(normalized, customerID, m.phones[normalized])
}

func (m *MemoryAccounts) Customer(ctx context.Context, customerID string) (*domain.Customer, error) {
	s, ok := m.slot(customerID)
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", customerID, domain.ErrCustomerNotFound)
	}
	if err := s.lock.acquire(ctx, m.lockTimeout); err != nil {
		return nil, fmt.Errorf("customer %s: %w", customerID, err)
	}
	c := s.customer
	s.lock.release()
	return &c, nil
}

func (m *MemoryAccounts) CreateCustomer(_ context.Context, c domain.Customer) error {
	if c.ID == "" {
		return domain.InvalidInput("customer id is required")
	}
	phone, err := validation.NormalizePhone(c.Phone)
	if err != nil {
		return err
	}
	c.Phone = phone

	m.phoneMu.Lock()
	defer m.phoneMu.Unlock()
	if err := validation.CheckPhoneUnique(phone, c.ID, m.phones[phone]); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.slots[c.ID]; exists {
		return domain.InvalidInput("customer %s already exists", c.ID)
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.slots[c.ID] = &customerSlot{lock: newEntityLock(), customer: c}
	if phone != "" {
		m.phones[phone] = c.ID
	}
	return nil
}

func (m *MemoryAccounts) UpdatePhone(ctx context.Context, customerID, phone string) error {
	normalized, err := validation.NormalizePhone(phone)
	if err != nil {
		return err
	}
	s, ok := m.slot(customerID)
	if !ok {
		return fmt.Errorf("update phone %s: %w", customerID, domain.ErrCustomerNotFound)
	}

	m.phoneMu.Lock()
	defer m.phoneMu.Unlock()
	if err := validation.CheckPhoneUnique(normalized, customerID, m.phones[normalized]); err != nil {
		return err
	}
	if err := s.lock.acquire(ctx, m.lockTimeout); err != nil {
		return fmt.Errorf("update phone %s: %w", customerID, err)
	}
	defer s.lock.release()

	if s.customer.Phone != "" {
		delete(m.phones, s.customer.Phone)
	}
	if normalized != "" {
		m.phones[normalized] = customerID
	}
	s.customer.Phone = normalized
	s.customer.Version++
	s.customer.UpdatedAt = time.Now()
	return nil
}
