package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("invalid input")
	ErrBusy              = errors.New("store busy")
)

// Repository is the persistence surface shared by every component. Compound
// operations (CreateSale, ClearCredit, item creation with opening stock,
// quantity adjustment) must be all-or-nothing: a failure leaves no partial
// state visible to concurrent readers.
type Repository interface {
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItem(ctx context.Context, code string) (*domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
	UpdateItem(ctx context.Context, code string, req domain.ItemUpdateRequest) (*domain.Item, error)
	AdjustQuantity(ctx context.Context, code string, delta int) (*domain.Item, error)
	DeleteItems(ctx context.Context, codes []string) (int, error)

	CreateService(ctx context.Context, svc domain.SellableService) (*domain.SellableService, error)
	GetService(ctx context.Context, id int64) (*domain.SellableService, error)
	ListServices(ctx context.Context) ([]domain.SellableService, error)
	UpdateService(ctx context.Context, id int64, req domain.ServiceUpsertRequest) error
	DeleteService(ctx context.Context, id int64) error

	// CreateSale resolves prices, checks stock, assigns the next TXN id,
	// persists the row, decrements product stock with a "used" movement per
	// product line, and upserts the credit entry for Credit sales — one unit.
	CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListLedger(ctx context.Context) ([]domain.LedgerRecord, error)
	DeleteTransactions(ctx context.Context, ids []string) (int, error)

	ListCredits(ctx context.Context) (map[string]domain.CreditEntry, error)
	ClearCredit(ctx context.Context, customer string, paymentMethod string, date string) (bool, error)
	DeleteCredits(ctx context.Context, customers []string) (int, error)

	CreateExpense(ctx context.Context, exp domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context) ([]domain.Expense, error)
	DeleteExpenses(ctx context.Context, ids []int64) (int, error)

	StockReport(ctx context.Context) ([]domain.StockReportRow, error)
	ListStockLog(ctx context.Context, itemCode string) ([]domain.StockLogEntry, error)

	SystemBalance(ctx context.Context) (decimal.Decimal, error)
	Summary(ctx context.Context) (domain.Summary, error)

	GetSetting(ctx context.Context, key string, fallback string) (string, error)
	SetSetting(ctx context.Context, key string, value string) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
