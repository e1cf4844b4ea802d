// Package memory provides an in-memory Repository used by tests and by
// POS_DB_PATH=memory dev runs. Semantics mirror the sqlite store exactly,
// including identifier sequences and the credit accrual rules.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/xid"
)

type Store struct {
	mu sync.RWMutex

	items        map[string]domain.Item
	services     map[int64]domain.SellableService
	transactions map[string]domain.Transaction
	expenses     map[int64]domain.Expense
	credits      map[string]creditRow
	stockLogs    []domain.StockLogEntry
	settings     map[string]string
	users        map[string]domain.UserAccount

	itemSeq    int64
	txnSeq     int64
	serviceSeq int64
	expenseSeq int64
}

// creditRow is the stored form; Status is derived on read.
type creditRow struct {
	amount               decimal.Decimal
	transactionIDs       []string
	dateCreated          string
	dateCleared          string
	paymentMethodCleared string
}

func New() *Store {
	s := &Store{
		items:        make(map[string]domain.Item),
		services:     make(map[int64]domain.SellableService),
		transactions: make(map[string]domain.Transaction),
		expenses:     make(map[int64]domain.Expense),
		credits:      make(map[string]creditRow),
		settings:     make(map[string]string),
		users:        make(map[string]domain.UserAccount),
	}
	s.seedUsers()
	return s
}

func (s *Store) seedUsers() {
	for _, u := range []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", "admin"},
		{"cashier", "SEED_CASHIER_PASSWORD", "cash123", "cashier"},
	} {
		pwd := os.Getenv(u.envKey)
		if pwd == "" {
			pwd = u.fallback
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.MinCost)
		if err != nil {
			continue
		}
		s.users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		}
	}
}

// ── Item catalog ──────────────────────────────────────────────────────────────

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || (item.Kind != domain.KindProduct && item.Kind != domain.KindService) {
		return nil, store.ErrValidation
	}
	if item.Price.IsNegative() || item.Quantity < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.itemSeq++
	item.Code = fmt.Sprintf("ITEM%03d", s.itemSeq)
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
	s.items[item.Code] = item

	if item.Quantity > 0 {
		s.appendStockLog(item.Code, domain.StockActionAdded, item.Quantity)
	}

	created := item
	return &created, nil
}

// appendStockLog requires s.mu held for writing.
func (s *Store) appendStockLog(code string, action string, quantity int) {
	s.stockLogs = append(s.stockLogs, domain.StockLogEntry{
		ID:        xid.New("sl"),
		ItemCode:  code,
		Action:    action,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Store) GetItem(_ context.Context, code string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := item
	return &found, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	return items, nil
}

func (s *Store) UpdateItem(_ context.Context, code string, req domain.ItemUpdateRequest) (*domain.Item, error) {
	if req.Name == "" || req.Quantity < 0 || req.BuyingPrice.IsNegative() || req.SellingPrice.IsNegative() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	item.Name = req.Name
	item.Quantity = req.Quantity
	item.BuyingPrice = req.BuyingPrice
	item.SellingPrice = req.SellingPrice
	item.Price = req.SellingPrice
	s.items[code] = item

	updated := item
	return &updated, nil
}

func (s *Store) AdjustQuantity(_ context.Context, code string, delta int) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	if item.Kind != domain.KindProduct || delta == 0 {
		found := item
		return &found, nil
	}

	newQuantity := item.Quantity + delta
	if newQuantity < 0 {
		return nil, store.ErrInsufficientStock
	}
	item.Quantity = newQuantity
	s.items[code] = item

	if delta > 0 {
		s.appendStockLog(code, domain.StockActionAdded, delta)
	} else {
		s.appendStockLog(code, domain.StockActionUsed, -delta)
	}

	updated := item
	return &updated, nil
}

func (s *Store) DeleteItems(_ context.Context, codes []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, code := range codes {
		if _, ok := s.items[code]; ok {
			delete(s.items, code)
			deleted++
		}
	}
	return deleted, nil
}

// ── Services ──────────────────────────────────────────────────────────────────

func (s *Store) CreateService(_ context.Context, svc domain.SellableService) (*domain.SellableService, error) {
	if svc.Name == "" || svc.Price.IsNegative() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.services {
		if strings.EqualFold(existing.Name, svc.Name) {
			return nil, store.ErrValidation
		}
	}

	s.serviceSeq++
	svc.ID = s.serviceSeq
	svc.CreatedAt = time.Now().UTC()
	s.services[svc.ID] = svc

	created := svc
	return &created, nil
}

func (s *Store) GetService(_ context.Context, id int64) (*domain.SellableService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := svc
	return &found, nil
}

func (s *Store) ListServices(_ context.Context) ([]domain.SellableService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]domain.SellableService, 0, len(s.services))
	for _, svc := range s.services {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

func (s *Store) UpdateService(_ context.Context, id int64, req domain.ServiceUpsertRequest) error {
	if req.Name == "" || req.Price.IsNegative() {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[id]
	if !ok {
		return store.ErrNotFound
	}
	for otherID, existing := range s.services {
		if otherID != id && strings.EqualFold(existing.Name, req.Name) {
			return store.ErrValidation
		}
	}
	svc.Name = req.Name
	svc.Price = req.Price
	s.services[id] = svc
	return nil
}

func (s *Store) DeleteService(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.services, id)
	return nil
}

// ── Transaction journal ───────────────────────────────────────────────────────

func (s *Store) CreateSale(_ context.Context, req domain.SaleRequest) (*domain.Transaction, error) {
	if len(req.Lines) == 0 {
		return nil, store.ErrValidation
	}

	date := req.Date
	if date == "" {
		date = time.Now().UTC().Format(domain.DateLayout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Price and validate every line before mutating anything, so a failing
	// line leaves stock untouched. Repeated product codes are checked against
	// their combined draw.
	total := decimal.Zero
	needed := make(map[string]int, len(req.Lines))
	for _, line := range req.Lines {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
		}
		if line.IsService() {
			svc, ok := s.services[line.ServiceID]
			if !ok {
				return nil, fmt.Errorf("service %d: %w", line.ServiceID, store.ErrNotFound)
			}
			total = total.Add(svc.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
			continue
		}
		item, ok := s.items[line.ItemCode]
		if !ok {
			return nil, fmt.Errorf("item %s: %w", line.ItemCode, store.ErrNotFound)
		}
		if item.Kind == domain.KindProduct {
			needed[line.ItemCode] += line.Quantity
			if item.Quantity < needed[line.ItemCode] {
				return nil, store.ErrInsufficientStock
			}
		}
		price := item.SellingPrice
		if price.IsZero() {
			price = item.Price
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	s.txnSeq++
	txn := domain.Transaction{
		ID:            fmt.Sprintf("TXN%04d", s.txnSeq),
		Lines:         append([]domain.SaleLine(nil), req.Lines...),
		Total:         total,
		PaymentMethod: req.PaymentMethod,
		CustomerName:  req.CustomerName,
		Paid:          req.PaymentMethod != domain.PaymentCredit,
		CreditStatus:  req.PaymentMethod == domain.PaymentCredit,
		Date:          date,
		CreatedAt:     time.Now().UTC(),
	}

	for _, line := range txn.Lines {
		if line.IsService() {
			continue
		}
		item := s.items[line.ItemCode]
		if item.Kind != domain.KindProduct {
			continue
		}
		item.Quantity -= line.Quantity
		s.items[line.ItemCode] = item
		s.appendStockLog(line.ItemCode, domain.StockActionUsed, line.Quantity)
	}

	s.transactions[txn.ID] = txn

	if txn.PaymentMethod == domain.PaymentCredit {
		s.accrueCredit(txn.CustomerName, total, txn.ID, date)
	}

	created := txn
	return &created, nil
}

// accrueCredit requires s.mu held for writing.
func (s *Store) accrueCredit(customer string, amount decimal.Decimal, transactionID string, date string) {
	entry, ok := s.credits[customer]
	if !ok {
		s.credits[customer] = creditRow{
			amount:         amount,
			transactionIDs: []string{transactionID},
			dateCreated:    date,
		}
		return
	}
	if entry.dateCleared != "" {
		s.credits[customer] = creditRow{
			amount:         amount,
			transactionIDs: []string{transactionID},
			dateCreated:    date,
		}
		return
	}
	entry.amount = entry.amount.Add(amount)
	entry.transactionIDs = append(entry.transactionIDs, transactionID)
	if entry.dateCreated == "" {
		entry.dateCreated = date
	}
	s.credits[customer] = entry
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := txn
	return &found, nil
}

func (s *Store) ListLedger(_ context.Context) ([]domain.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txns := make([]domain.Transaction, 0, len(s.transactions))
	for _, txn := range s.transactions {
		txns = append(txns, txn)
	}
	expenses := make([]domain.Expense, 0, len(s.expenses))
	for _, exp := range s.expenses {
		expenses = append(expenses, exp)
	}
	return store.MergeLedger(txns, expenses), nil
}

func (s *Store) DeleteTransactions(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.transactions[id]; ok {
			delete(s.transactions, id)
			deleted++
		}
	}
	return deleted, nil
}

// ── Credit ledger ─────────────────────────────────────────────────────────────

func (s *Store) ListCredits(_ context.Context) (map[string]domain.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credits := make(map[string]domain.CreditEntry, len(s.credits))
	for customer, row := range s.credits {
		status := domain.CreditStatusPending
		if row.dateCleared != "" {
			status = domain.CreditStatusCleared
		}
		credits[customer] = domain.CreditEntry{
			CustomerName:         customer,
			Amount:               row.amount,
			TransactionIDs:       append([]string(nil), row.transactionIDs...),
			DateCreated:          row.dateCreated,
			DateCleared:          row.dateCleared,
			PaymentMethodCleared: row.paymentMethodCleared,
			Status:               status,
		}
	}
	return credits, nil
}

func (s *Store) ClearCredit(_ context.Context, customer string, paymentMethod string, date string) (bool, error) {
	if date == "" {
		date = time.Now().UTC().Format(domain.DateLayout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.credits[customer]
	if !ok {
		return false, nil
	}

	for _, id := range entry.transactionIDs {
		txn, ok := s.transactions[id]
		if !ok {
			continue
		}
		txn.Paid = true
		txn.CreditStatus = false
		txn.PaymentMethodCleared = paymentMethod
		txn.DateCleared = date
		s.transactions[id] = txn
	}

	entry.amount = decimal.Zero
	entry.dateCleared = date
	entry.paymentMethodCleared = paymentMethod
	s.credits[customer] = entry
	return true, nil
}

func (s *Store) DeleteCredits(_ context.Context, customers []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, customer := range customers {
		if _, ok := s.credits[customer]; ok {
			delete(s.credits, customer)
			deleted++
		}
	}
	return deleted, nil
}

// ── Expense journal ───────────────────────────────────────────────────────────

func (s *Store) CreateExpense(_ context.Context, exp domain.Expense) (*domain.Expense, error) {
	if exp.Description == "" || !exp.Amount.IsPositive() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expenseSeq++
	exp.ID = s.expenseSeq
	if exp.Date == "" {
		exp.Date = time.Now().UTC().Format(domain.DateLayout)
	}
	exp.CreatedAt = time.Now().UTC()
	s.expenses[exp.ID] = exp

	created := exp
	return &created, nil
}

func (s *Store) ListExpenses(_ context.Context) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, len(s.expenses))
	for _, exp := range s.expenses {
		expenses = append(expenses, exp)
	}
	sort.Slice(expenses, func(i, j int) bool { return expenses[i].ID < expenses[j].ID })
	return expenses, nil
}

func (s *Store) DeleteExpenses(_ context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.expenses[id]; ok {
			delete(s.expenses, id)
			deleted++
		}
	}
	return deleted, nil
}

// ── Stock ledger reads ────────────────────────────────────────────────────────

func (s *Store) StockReport(_ context.Context) ([]domain.StockReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	received := make(map[string]int)
	used := make(map[string]int)
	for _, entry := range s.stockLogs {
		switch entry.Action {
		case domain.StockActionAdded:
			received[entry.ItemCode] += entry.Quantity
		case domain.StockActionUsed:
			used[entry.ItemCode] += entry.Quantity
		}
	}

	rows := make([]domain.StockReportRow, 0, len(s.items))
	for _, item := range s.items {
		if item.Kind != domain.KindProduct {
			continue
		}
		rows = append(rows, domain.StockReportRow{
			Code:      item.Code,
			Name:      item.Name,
			Received:  received[item.Code],
			Used:      used[item.Code],
			Remaining: item.Quantity,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	return rows, nil
}

func (s *Store) ListStockLog(_ context.Context, itemCode string) ([]domain.StockLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.StockLogEntry, 0, len(s.stockLogs))
	for _, entry := range s.stockLogs {
		if itemCode != "" && entry.ItemCode != itemCode {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ── Balance / summary ─────────────────────────────────────────────────────────

func (s *Store) SystemBalance(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balanceLocked(), nil
}

func (s *Store) balanceLocked() decimal.Decimal {
	sales := decimal.Zero
	for _, txn := range s.transactions {
		if txn.Paid {
			sales = sales.Add(txn.Total)
		}
	}
	expenses := decimal.Zero
	for _, exp := range s.expenses {
		expenses = expenses.Add(exp.Amount)
	}
	return sales.Sub(expenses)
}

func (s *Store) Summary(_ context.Context) (domain.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := decimal.Zero
	for _, txn := range s.transactions {
		if txn.Paid {
			sales = sales.Add(txn.Total)
		}
	}
	credits := decimal.Zero
	for _, row := range s.credits {
		credits = credits.Add(row.amount)
	}
	expenses := decimal.Zero
	for _, exp := range s.expenses {
		expenses = expenses.Add(exp.Amount)
	}

	return domain.Summary{
		TotalSales:       sales,
		TotalCredits:     credits,
		TotalExpenses:    expenses,
		Balance:          sales.Sub(expenses),
		TransactionCount: int64(len(s.transactions)),
	}, nil
}

// ── Settings ──────────────────────────────────────────────────────────────────

func (s *Store) GetSetting(_ context.Context, key string, fallback string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if value, ok := s.settings[key]; ok {
		return value, nil
	}
	return fallback, nil
}

func (s *Store) SetSetting(_ context.Context, key string, value string) error {
	if key == "" {
		return store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

// ── Users ─────────────────────────────────────────────────────────────────────

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Username]; ok {
		return store.ErrValidation
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
