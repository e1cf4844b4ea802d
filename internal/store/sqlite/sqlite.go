package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

// Store persists all POS state in one shared SQLite file. WAL mode lets
// terminal processes read last-committed state while a writer holds the lock;
// busy_timeout bounds how long a writer waits before the caller sees ErrBusy.
type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, path string, busyTimeoutMS int) (*Store, error) {
	if busyTimeoutMS < 1 {
		busyTimeoutMS = 15000
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)", path, busyTimeoutMS)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// One connection per process handle: in-process writers serialize in Go
	// instead of colliding on the sqlite write lock.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.seedDefaultUsers(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'cashier',
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS items (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			price TEXT NOT NULL,
			buying_price TEXT NOT NULL DEFAULT '0',
			selling_price TEXT,
			quantity INTEGER NOT NULL DEFAULT 0,
			unit_label TEXT NOT NULL DEFAULT 'unit',
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS services (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			price TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			lines TEXT NOT NULL,
			total TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			paid INTEGER NOT NULL DEFAULT 1,
			credit_status INTEGER NOT NULL DEFAULT 0,
			date TEXT NOT NULL,
			date_cleared TEXT,
			payment_method_cleared TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			description TEXT NOT NULL,
			amount TEXT NOT NULL,
			date TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS stock_logs (
			id TEXT PRIMARY KEY,
			item_code TEXT NOT NULL,
			action TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_stock_logs_item_code ON stock_logs(item_code);`,
		`CREATE TABLE IF NOT EXISTS credits (
			customer_name TEXT PRIMARY KEY,
			amount TEXT NOT NULL,
			transaction_ids TEXT NOT NULL,
			date_created TEXT,
			date_cleared TEXT,
			payment_method_cleared TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`,
		// Backfill counters from existing rows so a data file migrated from the
		// previous system keeps its ITEM###/TXN#### sequence.
		`INSERT INTO counters (name, value)
			SELECT 'item', COUNT(*) FROM items
			WHERE NOT EXISTS (SELECT 1 FROM counters WHERE name = 'item');`,
		`INSERT INTO counters (name, value)
			SELECT 'transaction', COUNT(*) FROM transactions
			WHERE NOT EXISTS (SELECT 1 FROM counters WHERE name = 'transaction');`,
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// seedDefaultUsers creates the admin and cashier accounts on first start.
// Credentials come from SEED_ADMIN_PASSWORD / SEED_CASHIER_PASSWORD; hardcoded
// dev defaults are used with a warning when unset.
func (s *Store) seedDefaultUsers(ctx context.Context) error {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cash123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[sqlite-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, u.username).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO users (username, password, role, active, created_at)
			VALUES (?, ?, ?, 1, ?)
		`, u.username, string(hash), u.role, time.Now().UTC())
		if err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// nextSequence increments a named counter inside the caller's transaction.
// Atomic under sqlite's writer lock, so concurrent terminals never mint the
// same formatted identifier.
func nextSequence(ctx context.Context, tx *sqlx.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO counters (name, value) VALUES (?, 0) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return 0, err
	}
	var n int64
	if err := tx.QueryRowContext(ctx, `UPDATE counters SET value = value + 1 WHERE name = ? RETURNING value`, name).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// wrapErr translates driver-level contention into the store's error taxonomy.
func wrapErr(err error) error {
	if isBusy(err) {
		return fmt.Errorf("%w: %v", store.ErrBusy, err)
	}
	return err
}

// ── Item catalog ──────────────────────────────────────────────────────────────

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || (item.Kind != domain.KindProduct && item.Kind != domain.KindService) {
		return nil, store.ErrValidation
	}
	if item.Price.IsNegative() || item.Quantity < 0 {
		return nil, store.ErrValidation
	}
	if item.SellingPrice.IsZero() {
		item.SellingPrice = item.Price
	}
	if item.UnitLabel == "" {
		item.UnitLabel = "unit"
	}
	if item.Kind != domain.KindProduct {
		item.Quantity = 0
	}
	item.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := nextSequence(ctx, tx, "item")
	if err != nil {
		return nil, wrapErr(err)
	}
	item.Code = fmt.Sprintf("ITEM%03d", seq)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (code, name, kind, price, buying_price, selling_price, quantity, unit_label, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.Code, item.Name, item.Kind, item.Price, item.BuyingPrice, item.SellingPrice, item.Quantity, item.UnitLabel, item.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}

	if item.Quantity > 0 {
		if err := insertStockLog(ctx, tx, item.Code, domain.StockActionAdded, item.Quantity); err != nil {
			return nil, wrapErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr(err)
	}

	created := item
	return &created, nil
}

func insertStockLog(ctx context.Context, tx *sqlx.Tx, code string, action string, quantity int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_logs (id, item_code, action, quantity, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, xid.New("sl"), code, action, quantity, time.Now().UTC())
	return err
}

const itemColumns = `code, name, kind, price, buying_price, COALESCE(selling_price, price) AS selling_price, quantity, unit_label, created_at`

func (s *Store) GetItem(ctx context.Context, code string) (*domain.Item, error) {
	var item domain.Item
	err := s.db.GetContext(ctx, &item, `SELECT `+itemColumns+` FROM items WHERE code = ?`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapErr(err)
	}
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	items := make([]domain.Item, 0, 64)
	if err := s.db.SelectContext(ctx, &items, `SELECT `+itemColumns+` FROM items ORDER BY code ASC`); err != nil {
		return nil, wrapErr(err)
	}
	return items, nil
}

func (s *Store) UpdateItem(ctx context.Context, code string, req domain.ItemUpdateRequest) (*domain.Item, error) {
	if req.Name == "" || req.Quantity < 0 || req.BuyingPrice.IsNegative() || req.SellingPrice.IsNegative() {
		return nil, store.ErrValidation
	}

	// Correction path: a direct overwrite, deliberately without a stock log
	// entry. The list price tracks the selling price, as the original did.
	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET name = ?, quantity = ?, buying_price = ?, selling_price = ?, price = ?
		WHERE code = ?
	`, req.Name, req.Quantity, req.BuyingPrice, req.SellingPrice, req.SellingPrice, code)
	if err != nil {
		return nil, wrapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, wrapErr(err)
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetItem(ctx, code)
}

func (s *Store) AdjustQuantity(ctx context.Context, code string, delta int) (*domain.Item, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var kind string
	var quantity int
	err = tx.QueryRowContext(ctx, `SELECT kind, quantity FROM items WHERE code = ?`, code).Scan(&kind, &quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapErr(err)
	}

	if kind != domain.KindProduct || delta == 0 {
		_ = tx.Rollback()
		return s.GetItem(ctx, code)
	}

	newQuantity := quantity + delta
	if newQuantity < 0 {
		return nil, store.ErrInsufficientStock
	}

	if _, err := tx.ExecContext(ctx, `UPDATE items SET quantity = ? WHERE code = ?`, newQuantity, code); err != nil {
		return nil, wrapErr(err)
	}

	action := domain.StockActionAdded
	logged := delta
	if delta < 0 {
		action = domain.StockActionUsed
		logged = -delta
	}
	if err := insertStockLog(ctx, tx, code, action, logged); err != nil {
		return nil, wrapErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr(err)
	}
	return s.GetItem(ctx, code)
}

func (s *Store) DeleteItems(ctx context.Context, codes []string) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM items WHERE code IN (?)`, codes)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(err)
	}
	return int(affected), nil
}

// ── Services ──────────────────────────────────────────────────────────────────

func (s *Store) CreateService(ctx context.Context, svc domain.SellableService) (*domain.SellableService, error) {
	if svc.Name == "" || svc.Price.IsNegative() {
		return nil, store.ErrValidation
	}
	svc.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO services (name, price, created_at)
		VALUES (?, ?, ?)
	`, svc.Name, svc.Price, svc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, wrapErr(err)
	}
	svc.ID, err = res.LastInsertId()
	if err != nil {
		return nil, wrapErr(err)
	}

	created := svc
	return &created, nil
}

func (s *Store) GetService(ctx context.Context, id int64) (*domain.SellableService, error) {
	var svc domain.SellableService
	err := s.db.GetContext(ctx, &svc, `SELECT id, name, price, created_at FROM services WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapErr(err)
	}
	return &svc, nil
}

func (s *Store) ListServices(ctx context.Context) ([]domain.SellableService, error) {
	services := make([]domain.SellableService, 0, 32)
	if err := s.db.SelectContext(ctx, &services, `SELECT id, name, price, created_at FROM services ORDER BY name ASC`); err != nil {
		return nil, wrapErr(err)
	}
	return services, nil
}

func (s *Store) UpdateService(ctx context.Context, id int64, req domain.ServiceUpsertRequest) error {
	if req.Name == "" || req.Price.IsNegative() {
		return store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `UPDATE services SET name = ?, price = ? WHERE id = ?`, req.Name, req.Price, id)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return wrapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteService(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return wrapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ── Transaction journal ───────────────────────────────────────────────────────

func (s *Store) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Transaction, error) {
	if len(req.Lines) == 0 {
		return nil, store.ErrValidation
	}

	date := req.Date
	if date == "" {
		date = time.Now().UTC().Format(domain.DateLayout)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	// needed accumulates the per-product quantity across lines so repeated
	// codes are checked against their combined draw, not line by line.
	total := decimal.Zero
	needed := make(map[string]int, len(req.Lines))

	for _, line := range req.Lines {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
		}
		if line.IsService() {
			var price decimal.Decimal
			err := tx.QueryRowContext(ctx, `SELECT price FROM services WHERE id = ?`, line.ServiceID).Scan(&price)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, fmt.Errorf("service %d: %w", line.ServiceID, store.ErrNotFound)
				}
				return nil, wrapErr(err)
			}
			total = total.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
			continue
		}

		var kind string
		var price decimal.Decimal
		var available int
		err := tx.QueryRowContext(ctx, `
			SELECT kind, COALESCE(selling_price, price), quantity
			FROM items
			WHERE code = ?
		`, line.ItemCode).Scan(&kind, &price, &available)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("item %s: %w", line.ItemCode, store.ErrNotFound)
			}
			return nil, wrapErr(err)
		}
		if kind == domain.KindProduct {
			needed[line.ItemCode] += line.Quantity
			if available < needed[line.ItemCode] {
				return nil, store.ErrInsufficientStock
			}
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	seq, err := nextSequence(ctx, tx, "transaction")
	if err != nil {
		return nil, wrapErr(err)
	}
	txn := domain.Transaction{
		ID:            fmt.Sprintf("TXN%04d", seq),
		Lines:         req.Lines,
		Total:         total,
		PaymentMethod: req.PaymentMethod,
		CustomerName:  req.CustomerName,
		Paid:          req.PaymentMethod != domain.PaymentCredit,
		CreditStatus:  req.PaymentMethod == domain.PaymentCredit,
		Date:          date,
		CreatedAt:     time.Now().UTC(),
	}

	linesJSON, err := json.Marshal(txn.Lines)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, lines, total, payment_method, customer_name, paid, credit_status, date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, txn.ID, string(linesJSON), txn.Total, txn.PaymentMethod, txn.CustomerName, txn.Paid, txn.CreditStatus, txn.Date, txn.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}

	for _, line := range txn.Lines {
		if line.IsService() || needed[line.ItemCode] == 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `UPDATE items SET quantity = quantity - ? WHERE code = ?`, line.Quantity, line.ItemCode)
		if err != nil {
			return nil, wrapErr(err)
		}
		if err := insertStockLog(ctx, tx, line.ItemCode, domain.StockActionUsed, line.Quantity); err != nil {
			return nil, wrapErr(err)
		}
	}

	if txn.PaymentMethod == domain.PaymentCredit {
		if err := accrueCredit(ctx, tx, txn.CustomerName, total, txn.ID, date); err != nil {
			return nil, wrapErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr(err)
	}

	return &txn, nil
}

// accrueCredit adds a credit sale to the customer's outstanding balance inside
// the sale's transaction. An entry that was previously cleared is re-opened:
// its clearance stamps are wiped and the accrual date restarts, so the derived
// status and the unpaid-transaction sum stay in lockstep.
func accrueCredit(ctx context.Context, tx *sqlx.Tx, customer string, amount decimal.Decimal, transactionID string, date string) error {
	var prevAmount decimal.Decimal
	var idsJSON string
	var dateCreated sql.NullString
	var dateCleared sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT amount, transaction_ids, date_created, date_cleared
		FROM credits
		WHERE customer_name = ?
	`, customer).Scan(&prevAmount, &idsJSON, &dateCreated, &dateCleared)
	if errors.Is(err, sql.ErrNoRows) {
		ids, marshalErr := json.Marshal([]string{transactionID})
		if marshalErr != nil {
			return marshalErr
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO credits (customer_name, amount, transaction_ids, date_created, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, customer, amount, string(ids), date, time.Now().UTC())
		return err
	}
	if err != nil {
		return err
	}

	var ids []string
	if err := json.Unmarshal([]byte(idsJSON), &ids); err != nil {
		return fmt.Errorf("credit entry for %q has corrupt transaction ids: %w", customer, err)
	}

	if dateCleared.Valid && dateCleared.String != "" {
		// Fresh accrual cycle after a clearance.
		ids = []string{transactionID}
		newIDs, marshalErr := json.Marshal(ids)
		if marshalErr != nil {
			return marshalErr
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE credits
			SET amount = ?, transaction_ids = ?, date_created = ?, date_cleared = NULL, payment_method_cleared = NULL
			WHERE customer_name = ?
		`, amount, string(newIDs), date, customer)
		return err
	}

	ids = append(ids, transactionID)
	newIDs, marshalErr := json.Marshal(ids)
	if marshalErr != nil {
		return marshalErr
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE credits
		SET amount = ?, transaction_ids = ?, date_created = COALESCE(date_created, ?)
		WHERE customer_name = ?
	`, prevAmount.Add(amount), string(newIDs), date, customer)
	return err
}

const transactionColumns = `id, lines, total, payment_method, customer_name, paid, credit_status, date, date_cleared, payment_method_cleared, created_at`

func scanTransaction(row interface {
	Scan(dest ...any) error
}) (*domain.Transaction, error) {
	var txn domain.Transaction
	var linesJSON string
	var dateCleared sql.NullString
	var methodCleared sql.NullString
	err := row.Scan(
		&txn.ID,
		&linesJSON,
		&txn.Total,
		&txn.PaymentMethod,
		&txn.CustomerName,
		&txn.Paid,
		&txn.CreditStatus,
		&txn.Date,
		&dateCleared,
		&methodCleared,
		&txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(linesJSON), &txn.Lines); err != nil {
		return nil, fmt.Errorf("transaction %s has corrupt line items: %w", txn.ID, err)
	}
	txn.DateCleared = dateCleared.String
	txn.PaymentMethodCleared = methodCleared.String
	txn.CreatedAt = txn.CreatedAt.UTC()
	return &txn, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapErr(err)
	}
	return txn, nil
}

func (s *Store) listTransactions(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	txns := make([]domain.Transaction, 0, 128)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return txns, nil
}

func (s *Store) ListLedger(ctx context.Context) ([]domain.LedgerRecord, error) {
	txns, err := s.listTransactions(ctx)
	if err != nil {
		return nil, err
	}
	expenses, err := s.ListExpenses(ctx)
	if err != nil {
		return nil, err
	}
	return store.MergeLedger(txns, expenses), nil
}

func (s *Store) DeleteTransactions(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM transactions WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(err)
	}
	return int(affected), nil
}

// ── Credit ledger ─────────────────────────────────────────────────────────────

func (s *Store) ListCredits(ctx context.Context) (map[string]domain.CreditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_name, amount, transaction_ids, date_created, date_cleared, payment_method_cleared
		FROM credits
	`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	credits := make(map[string]domain.CreditEntry)
	for rows.Next() {
		var entry domain.CreditEntry
		var idsJSON string
		var dateCreated, dateCleared, methodCleared sql.NullString
		if err := rows.Scan(&entry.CustomerName, &entry.Amount, &idsJSON, &dateCreated, &dateCleared, &methodCleared); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(idsJSON), &entry.TransactionIDs); err != nil {
			return nil, fmt.Errorf("credit entry for %q has corrupt transaction ids: %w", entry.CustomerName, err)
		}
		entry.DateCreated = dateCreated.String
		entry.DateCleared = dateCleared.String
		entry.PaymentMethodCleared = methodCleared.String
		entry.Status = domain.CreditStatusPending
		if entry.DateCleared != "" {
			entry.Status = domain.CreditStatusCleared
		}
		credits[entry.CustomerName] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return credits, nil
}

func (s *Store) ClearCredit(ctx context.Context, customer string, paymentMethod string, date string) (bool, error) {
	if date == "" {
		date = time.Now().UTC().Format(domain.DateLayout)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, wrapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var idsJSON string
	err = tx.QueryRowContext(ctx, `SELECT transaction_ids FROM credits WHERE customer_name = ?`, customer).Scan(&idsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr(err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(idsJSON), &ids); err != nil {
		return false, fmt.Errorf("credit entry for %q has corrupt transaction ids: %w", customer, err)
	}

	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			UPDATE transactions
			SET paid = 1, credit_status = 0, payment_method_cleared = ?, date_cleared = ?
			WHERE id = ?
		`, paymentMethod, date, id)
		if err != nil {
			return false, wrapErr(err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE credits
		SET amount = '0', date_cleared = ?, payment_method_cleared = ?
		WHERE customer_name = ?
	`, date, paymentMethod, customer)
	if err != nil {
		return false, wrapErr(err)
	}

	if err := tx.Commit(); err != nil {
		return false, wrapErr(err)
	}
	return true, nil
}

func (s *Store) DeleteCredits(ctx context.Context, customers []string) (int, error) {
	if len(customers) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM credits WHERE customer_name IN (?)`, customers)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(err)
	}
	return int(affected), nil
}

// ── Expense journal ───────────────────────────────────────────────────────────

func (s *Store) CreateExpense(ctx context.Context, exp domain.Expense) (*domain.Expense, error) {
	if exp.Description == "" || !exp.Amount.IsPositive() {
		return nil, store.ErrValidation
	}
	if exp.Date == "" {
		exp.Date = time.Now().UTC().Format(domain.DateLayout)
	}
	exp.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (description, amount, date, created_at)
		VALUES (?, ?, ?, ?)
	`, exp.Description, exp.Amount, exp.Date, exp.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	exp.ID, err = res.LastInsertId()
	if err != nil {
		return nil, wrapErr(err)
	}

	created := exp
	return &created, nil
}

func (s *Store) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	expenses := make([]domain.Expense, 0, 64)
	if err := s.db.SelectContext(ctx, &expenses, `SELECT id, description, amount, date, created_at FROM expenses ORDER BY id ASC`); err != nil {
		return nil, wrapErr(err)
	}
	return expenses, nil
}

func (s *Store) DeleteExpenses(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM expenses WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(err)
	}
	return int(affected), nil
}

// ── Stock ledger reads ────────────────────────────────────────────────────────

func (s *Store) StockReport(ctx context.Context) ([]domain.StockReportRow, error) {
	rows := make([]domain.StockReportRow, 0, 64)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT i.code AS code, i.name AS name,
			COALESCE(SUM(CASE WHEN sl.action = 'added' THEN sl.quantity ELSE 0 END), 0) AS received,
			COALESCE(SUM(CASE WHEN sl.action = 'used' THEN sl.quantity ELSE 0 END), 0) AS used,
			i.quantity AS remaining
		FROM items i
		LEFT JOIN stock_logs sl ON sl.item_code = i.code
		WHERE i.kind = 'product'
		GROUP BY i.code, i.name, i.quantity
		ORDER BY i.code ASC
	`)
	if err != nil {
		return nil, wrapErr(err)
	}
	return rows, nil
}

func (s *Store) ListStockLog(ctx context.Context, itemCode string) ([]domain.StockLogEntry, error) {
	entries := make([]domain.StockLogEntry, 0, 64)
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, item_code, action, quantity, created_at
		FROM stock_logs
		WHERE (? = '' OR item_code = ?)
		ORDER BY created_at ASC
	`, itemCode, itemCode)
	if err != nil {
		return nil, wrapErr(err)
	}
	return entries, nil
}

// ── Balance / summary ─────────────────────────────────────────────────────────

// sumColumn accumulates a decimal TEXT column in Go; sqlite's SUM would coerce
// the values through floats and lose money precision.
func (s *Store) sumColumn(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, wrapErr(err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var v decimal.Decimal
		if err := rows.Scan(&v); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, wrapErr(err)
	}
	return total, nil
}

func (s *Store) SystemBalance(ctx context.Context) (decimal.Decimal, error) {
	sales, err := s.sumColumn(ctx, `SELECT total FROM transactions WHERE paid = 1`)
	if err != nil {
		return decimal.Zero, err
	}
	expenses, err := s.sumColumn(ctx, `SELECT amount FROM expenses`)
	if err != nil {
		return decimal.Zero, err
	}
	return sales.Sub(expenses), nil
}

func (s *Store) Summary(ctx context.Context) (domain.Summary, error) {
	sales, err := s.sumColumn(ctx, `SELECT total FROM transactions WHERE paid = 1`)
	if err != nil {
		return domain.Summary{}, err
	}
	credits, err := s.sumColumn(ctx, `SELECT amount FROM credits`)
	if err != nil {
		return domain.Summary{}, err
	}
	expenses, err := s.sumColumn(ctx, `SELECT amount FROM expenses`)
	if err != nil {
		return domain.Summary{}, err
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count); err != nil {
		return domain.Summary{}, wrapErr(err)
	}

	return domain.Summary{
		TotalSales:       sales,
		TotalCredits:     credits,
		TotalExpenses:    expenses,
		Balance:          sales.Sub(expenses),
		TransactionCount: count,
	}, nil
}

// ── Settings ──────────────────────────────────────────────────────────────────

func (s *Store) GetSetting(ctx context.Context, key string, fallback string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", wrapErr(err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key string, value string) error {
	if key == "" {
		return store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	return wrapErr(err)
}

// ── Users ─────────────────────────────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrValidation
	}
	return wrapErr(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, password, role, active, created_at FROM users`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password = ? WHERE username = ?`, password, username)
	return wrapErr(err)
}
