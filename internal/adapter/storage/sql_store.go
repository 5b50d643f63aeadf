package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/core/validation"
)

//go:embed schema_mysql.sql
var mysqlSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"

	defaultMaxConflictRetries = 5
)

// SQLStore persists products, customers and the audit trail in MySQL or
// SQLite. Stock and balance changes are single-row conditional updates,
// so each one is atomic without holding a transaction across a checkout.
type SQLStore struct {
	db         *sql.DB
	driver     string
	policy     domain.CreditPolicy
	maxRetries int
}

type SQLOption func(*SQLStore)

func WithCreditPolicy(p domain.CreditPolicy) SQLOption {
	return func(s *SQLStore) { s.policy = p }
}

// WithMaxConflictRetries bounds the optimistic retries of SetStock.
func WithMaxConflictRetries(n int) SQLOption {
	return func(s *SQLStore) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func NewSQLStore(db *sql.DB, driver string, opts ...SQLOption) *SQLStore {
	s := &SQLStore{db: db, driver: driver, maxRetries: defaultMaxConflictRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSQL opens the database, applies pragmas for SQLite and creates
// missing tables. It is safe to call on an existing database.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...SQLOption) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	schema := mysqlSchema
	switch driver {
	case DriverSQLite:
		// SQLite has a single writer; more connections only produce SQLITE_BUSY
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		schema = sqliteSchema
	case DriverMySQL:
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	default:
		db.Close()
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	if err := applySchema(ctx, db, schema); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStore(db, driver, opts...), nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func now() time.Time {
	return time.Now().UTC()
}

// Reserve decrements stock with one conditional UPDATE, so concurrent
// reservations never conflict while stock remains.
func (s *SQLStore) Reserve(ctx context.Context, productID string, quantity int) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, domain.InvalidInput("reserve quantity must be > 0, got %d", quantity)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.StockError(productID, quantity, -1, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, version = version + 1, updated_at = ?
		WHERE id = ? AND stock >= ?`,
		quantity, now(), productID, quantity,
	)
	if err != nil {
		return nil, domain.StockError(productID, quantity, -1, fmt.Errorf("update product: %w", err))
	}
	rows, _ := result.RowsAffected()

	var stock int
	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT stock, version FROM products WHERE id = ?`, productID,
	).Scan(&stock, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.StockError(productID, quantity, -1, domain.ErrProductNotFound)
	}
	if err != nil {
		return nil, domain.StockError(productID, quantity, -1, fmt.Errorf("query product: %w", err))
	}
	if rows == 0 {
		return nil, domain.StockError(productID, quantity, stock, nil)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.StockError(productID, quantity, -1, fmt.Errorf("commit: %w", err))
	}
	return domain.NewReservation(uuid.NewString(), productID, quantity, version), nil
}

func (s *SQLStore) Commit(_ context.Context, r *domain.Reservation) error {
	return r.Settle(domain.ReservationCommitted)
}

func (s *SQLStore) Release(ctx context.Context, r *domain.Reservation) error {
	if err := r.Settle(domain.ReservationReleased); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		r.Quantity, now(), r.ProductID,
	)
	if err != nil {
		r.Unsettle()
		return fmt.Errorf("release %s: %w", r.ProductID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		r.Unsettle()
		return fmt.Errorf("release %s: %w", r.ProductID, domain.ErrProductNotFound)
	}
	return nil
}

func (s *SQLStore) Products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_minor, cost_minor, stock, min_stock, discount_bp, version, updated_at
		FROM products WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		var price, cost, discountBP int64
		if err := rows.Scan(&p.ID, &p.Name, &price, &cost, &p.Stock, &p.MinStock, &discountBP, &p.Version, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Price = domain.FromMinorUnits(price)
		p.Cost = domain.FromMinorUnits(cost)
		p.DiscountPercent = decimal.New(discountBP, -2)
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertProduct(ctx context.Context, p domain.Product) error {
	if p.Stock < 0 || p.Price.IsNegative() || p.Cost.IsNegative() {
		return domain.InvalidInput("product %s: stock, price and cost must be >= 0", p.ID)
	}
	discountBP := p.DiscountPercent.Shift(2).IntPart()

	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = ?, price_minor = ?, cost_minor = ?, stock = ?, min_stock = ?, discount_bp = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ?`,
		p.Name, domain.ToMinorUnits(p.Price), domain.ToMinorUnits(p.Cost), p.Stock, p.MinStock, discountBP,
		now(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_minor, cost_minor, stock, min_stock, discount_bp, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		p.ID, p.Name, domain.ToMinorUnits(p.Price), domain.ToMinorUnits(p.Cost), p.Stock, p.MinStock, discountBP, now(),
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// SetStock overwrites stock with a version check and records the
// difference as a stock movement.
func (s *SQLStore) SetStock(ctx context.Context, productID string, quantity int, reason string) error {
	if quantity < 0 {
		return domain.InvalidInput("stock must be >= 0, got %d", quantity)
	}

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		done, err := s.setStockOnce(ctx, productID, quantity, reason)
		if err != nil || done {
			return err
		}
	}
	return fmt.Errorf("set stock %s: %w", productID, domain.ErrOptimisticLock)
}

func (s *SQLStore) setStockOnce(ctx context.Context, productID string, quantity int, reason string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var stock int
	var version int64
	err = tx.QueryRowContext(ctx, `SELECT stock, version FROM products WHERE id = ?`, productID).Scan(&stock, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("set stock %s: %w", productID, domain.ErrProductNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("query product: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		quantity, now(), productID, version,
	)
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, nil
	}

	if delta := quantity - stock; delta != 0 {
		direction := domain.MovementIn
		if delta < 0 {
			direction, delta = domain.MovementOut, -delta
		}
		if err := insertMovement(ctx, tx, productID, direction, delta, reason); err != nil {
			return false, err
		}
	}
	return true, tx.Commit()
}

func (s *SQLStore) AdjustPriceOrCost(ctx context.Context, productID string, price, cost *decimal.Decimal) error {
	if (price != nil && price.IsNegative()) || (cost != nil && cost.IsNegative()) {
		return domain.InvalidInput("price and cost must be >= 0")
	}
	var priceMinor, costMinor sql.NullInt64
	if price != nil {
		priceMinor = sql.NullInt64{Int64: domain.ToMinorUnits(*price), Valid: true}
	}
	if cost != nil {
		costMinor = sql.NullInt64{Int64: domain.ToMinorUnits(*cost), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET price_minor = COALESCE(?, price_minor), cost_minor = COALESCE(?, cost_minor), updated_at = ?
		WHERE id = ?`,
		priceMinor, costMinor, now(), productID,
	)
	if err != nil {
		return fmt.Errorf("adjust product: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("adjust %s: %w", productID, domain.ErrProductNotFound)
	}
	return nil
}

func insertMovement(ctx context.Context, tx *sql.Tx, productID string, dir domain.MovementDirection, qty int, reason string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (product_id, direction, quantity, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		productID, string(dir), qty, reason, now(),
	)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

// Movements lists stock movements of one product, oldest first.
func (s *SQLStore) Movements(ctx context.Context, productID string) ([]domain.StockMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, direction, quantity, reason, created_at
		FROM stock_movements WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()

	var out []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		var dir string
		if err := rows.Scan(&m.ProductID, &dir, &m.Quantity, &m.Reason, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		m.Direction = domain.MovementDirection(dir)
		out = append(out, m)
	}
	return out, rows.Err()
}

// creditFloor returns the lowest allowed balance in minor units, or false
// when overdraft is unbounded.
func (s *SQLStore) creditFloor() (int64, bool) {
	if !s.policy.AllowOverdraft {
		return 0, true
	}
	if s.policy.OverdraftLimit.IsZero() {
		return 0, false
	}
	return -domain.ToMinorUnits(s.policy.OverdraftLimit), true
}

func (s *SQLStore) Debit(ctx context.Context, customerID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.InvalidInput("debit amount must be >= 0, got %s", amount)
	}
	amountMinor := domain.ToMinorUnits(amount)

	query := `
		UPDATE customers
		SET balance_minor = balance_minor - ?, version = version + 1, updated_at = ?
		WHERE id = ?`
	args := []any{amountMinor, now(), customerID}
	if floor, bounded := s.creditFloor(); bounded {
		query += ` AND balance_minor - ? >= ?`
		args = append(args, amountMinor, floor)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.InsufficientCredit(customerID, "balance unavailable", err)
	}
	if rows, _ := result.RowsAffected(); rows == 1 {
		return nil
	}

	var balance int64
	err = s.db.QueryRowContext(ctx, `SELECT balance_minor FROM customers WHERE id = ?`, customerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InsufficientCredit(customerID, "unknown customer", domain.ErrCustomerNotFound)
	}
	if err != nil {
		return domain.InsufficientCredit(customerID, "balance unavailable", err)
	}
	return domain.InsufficientCredit(customerID, fmt.Sprintf("balance %s cannot cover %s",
		domain.FromMinorUnits(balance).StringFixed(domain.MoneyScale), amount.StringFixed(domain.MoneyScale)), nil)
}

func (s *SQLStore) Credit(ctx context.Context, customerID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.InvalidInput("credit amount must be >= 0, got %s", amount)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET balance_minor = balance_minor + ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		domain.ToMinorUnits(amount), now(), customerID,
	)
	if err != nil {
		return fmt.Errorf("credit customer: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("credit %s: %w", customerID, domain.ErrCustomerNotFound)
	}
	return nil
}

func (s *SQLStore) RegisterOrValidatePhone(ctx context.Context, phone, customerID string) error {
	normalized, err := validation.NormalizePhone(phone)
	if err != nil || normalized == "" {
		return err
	}
	owner, err := s.phoneOwner(ctx, normalized)
	if err != nil {
		return err
	}
	return validation.CheckPhoneUnique(normalized, customerID, owner)
}

func (s *SQLStore) phoneOwner(ctx context.Context, phone string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM customers WHERE phone = ?`, phone).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query phone owner: %w", err)
	}
	return owner, nil
}

func (s *SQLStore) Customer(ctx context.Context, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	var phone sql.NullString
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, balance_minor, version, created_at, updated_at
		FROM customers WHERE id = ?`, customerID,
	).Scan(&c.ID, &c.Name, &phone, &balance, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", customerID, domain.ErrCustomerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	c.Phone = phone.String
	c.Balance = domain.FromMinorUnits(balance)
	return &c, nil
}

func (s *SQLStore) CreateCustomer(ctx context.Context, c domain.Customer) error {
	if c.ID == "" {
		return domain.InvalidInput("customer id is required")
	}
	phone, err := validation.NormalizePhone(c.Phone)
	if err != nil {
		return err
	}
	if err := s.RegisterOrValidatePhone(ctx, phone, c.ID); err != nil {
		return err
	}

	ts := now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, balance_minor, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		c.ID, c.Name, nullString(phone), domain.ToMinorUnits(c.Balance), ts, ts,
	)
	if isPhoneConflict(err) {
		owner, _ := s.phoneOwner(ctx, phone)
		return domain.DuplicatePhone(phone, owner)
	}
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdatePhone(ctx context.Context, customerID, phone string) error {
	normalized, err := validation.NormalizePhone(phone)
	if err != nil {
		return err
	}
	if err := s.RegisterOrValidatePhone(ctx, normalized, customerID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE customers SET phone = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		nullString(normalized), now(), customerID,
	)
	if isPhoneConflict(err) {
		owner, _ := s.phoneOwner(ctx, normalized)
		return domain.DuplicatePhone(normalized, owner)
	}
	if err != nil {
		return fmt.Errorf("update phone: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("update phone %s: %w", customerID, domain.ErrCustomerNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isPhoneConflict recognizes the unique phone index firing in either
// driver, which covers the window between the pre-check and the write.
func isPhoneConflict(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062 && strings.Contains(myErr.Message, "phone")
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(liteErr.Error(), "phone")
	}
	return false
}

// Append writes the transaction, its lines and, for completed sales, the
// outgoing stock movements in one database transaction.
func (s *SQLStore) Append(ctx context.Context, entry domain.AuditEntry) error {
	t := entry.Transaction

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sale_transactions
			(id, invoice_no, request_id, customer_id, payment_method, subtotal_minor, discount_minor,
			 tax_minor, total_minor, status, reason, error_kind, actor, terminal, created_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, nullString(t.InvoiceNo), t.RequestID, nullString(t.CustomerID), string(t.PaymentMethod),
		domain.ToMinorUnits(t.Subtotal), domain.ToMinorUnits(t.Discount), domain.ToMinorUnits(t.Tax),
		domain.ToMinorUnits(t.Total), string(t.Status), t.Reason, string(entry.ErrorKind),
		entry.Actor, entry.Terminal, t.CreatedAt.UTC(), entry.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	for i, line := range t.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (transaction_id, line_no, product_id, quantity, unit_price_minor, line_total_minor)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, i, line.ProductID, line.Quantity, domain.ToMinorUnits(line.UnitPrice), domain.ToMinorUnits(line.LineTotal),
		)
		if err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
		if t.Status == domain.TransactionCompleted {
			if err := insertMovement(ctx, tx, line.ProductID, domain.MovementOut, line.Quantity, "Sale #"+t.InvoiceNo); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *SQLStore) NextInvoice(ctx context.Context) (string, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO invoice_sequence (created_at) VALUES (?)`, now())
	if err != nil {
		return "", fmt.Errorf("next invoice: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("next invoice: %w", err)
	}
	return domain.InvoiceNumber(seq), nil
}

// Transactions returns audited transactions, oldest first, with lines.
func (s *SQLStore) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_no, request_id, customer_id, payment_method, subtotal_minor, discount_minor,
		       tax_minor, total_minor, status, reason, actor, created_at
		FROM sale_transactions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var invoice, customer sql.NullString
		var method, status string
		var subtotal, discount, tax, total int64
		if err := rows.Scan(&t.ID, &invoice, &t.RequestID, &customer, &method, &subtotal, &discount,
			&tax, &total, &status, &t.Reason, &t.Actor, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.InvoiceNo = invoice.String
		t.CustomerID = customer.String
		t.PaymentMethod = domain.PaymentMethod(method)
		t.Status = domain.TransactionStatus(status)
		t.Subtotal = domain.FromMinorUnits(subtotal)
		t.Discount = domain.FromMinorUnits(discount)
		t.Tax = domain.FromMinorUnits(tax)
		t.Total = domain.FromMinorUnits(total)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		lines, err := s.lines(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}

func (s *SQLStore) lines(ctx context.Context, transactionID string) ([]domain.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price_minor, line_total_minor
		FROM sale_items WHERE transaction_id = ? ORDER BY line_no`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("query sale items: %w", err)
	}
	defer rows.Close()

	var out []domain.LineItem
	for rows.Next() {
		var l domain.LineItem
		var unit, lineTotal int64
		if err := rows.Scan(&l.ProductID, &l.Quantity, &unit, &lineTotal); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		l.UnitPrice = domain.FromMinorUnits(unit)
		l.LineTotal = domain.FromMinorUnits(lineTotal)
		out = append(out, l)
	}
	return out, rows.Err()
}
