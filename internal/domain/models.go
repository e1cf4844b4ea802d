package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	KindProduct = "product"
	KindService = "service"
)

const (
	PaymentCash   = "Cash"
	PaymentMpesa  = "Mpesa"
	PaymentCredit = "Credit"
)

const (
	StockActionAdded = "added"
	StockActionUsed  = "used"
)

const (
	CreditStatusPending = "Pending"
	CreditStatusCleared = "Cleared"
)

const (
	EntryTypeSale    = "sale"
	EntryTypeExpense = "expense"
)

// DateLayout is the calendar-day format used for sale, expense and clearance
// dates throughout the system.
const DateLayout = "2006-01-02"

type Item struct {
	Code         string          `db:"code" json:"code"`
	Name         string          `db:"name" json:"name"`
	Kind         string          `db:"kind" json:"kind"`
	Price        decimal.Decimal `db:"price" json:"price"`
	BuyingPrice  decimal.Decimal `db:"buying_price" json:"buying_price"`
	SellingPrice decimal.Decimal `db:"selling_price" json:"selling_price"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitLabel    string          `db:"unit_label" json:"unit_label"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

type ItemCreateRequest struct {
	Name         string           `json:"name"`
	Kind         string           `json:"kind"`
	Price        decimal.Decimal  `json:"price"`
	Quantity     int              `json:"quantity"`
	BuyingPrice  decimal.Decimal  `json:"buying_price"`
	SellingPrice *decimal.Decimal `json:"selling_price,omitempty"`
	UnitLabel    string           `json:"unit_label"`
}

type ItemUpdateRequest struct {
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	BuyingPrice  decimal.Decimal `json:"buying_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type QuantityAdjustRequest struct {
	Delta int `json:"delta"`
}

// SellableService is a priced offering with no stock tracking (printing,
// repairs, browsing time). It is independent of the item catalog.
type SellableService struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

type ServiceUpsertRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// SaleLine is one line of a sale. Exactly one of ItemCode or ServiceID must be
// set; the pair acts as a tagged variant rather than the loose key probing the
// previous system used.
type SaleLine struct {
	ItemCode  string `json:"item_code,omitempty"`
	ServiceID int64  `json:"service_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// IsService reports whether the line sells a service rather than a catalog item.
func (l SaleLine) IsService() bool {
	return l.ServiceID != 0
}

type SaleRequest struct {
	Lines         []SaleLine `json:"lines"`
	PaymentMethod string     `json:"payment_method"`
	CustomerName  string     `json:"customer_name"`
	Date          string     `json:"date,omitempty"`
}

type Transaction struct {
	ID                   string          `json:"id"`
	Lines                []SaleLine      `json:"lines"`
	Total                decimal.Decimal `json:"total"`
	PaymentMethod        string          `json:"payment_method"`
	CustomerName         string          `json:"customer_name"`
	Paid                 bool            `json:"paid"`
	CreditStatus         bool            `json:"credit_status"`
	Date                 string          `json:"date"`
	DateCleared          string          `json:"date_cleared,omitempty"`
	PaymentMethodCleared string          `json:"payment_method_cleared,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

type Expense struct {
	ID          int64           `db:"id" json:"id"`
	Description string          `db:"description" json:"description"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Date        string          `db:"date" json:"date"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

type ExpenseCreateRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date,omitempty"`
}

// CreditEntry is a customer's outstanding balance. The customer name is the
// natural key; Status is derived from DateCleared, never stored.
type CreditEntry struct {
	CustomerName         string          `json:"customer_name"`
	Amount               decimal.Decimal `json:"amount"`
	TransactionIDs       []string        `json:"transaction_ids"`
	DateCreated          string          `json:"date_created"`
	DateCleared          string          `json:"date_cleared,omitempty"`
	PaymentMethodCleared string          `json:"payment_method_cleared,omitempty"`
	Status               string          `json:"status"`
}

type ClearCreditRequest struct {
	PaymentMethod string `json:"payment_method"`
	Date          string `json:"date,omitempty"`
}

type StockLogEntry struct {
	ID        string    `db:"id" json:"id"`
	ItemCode  string    `db:"item_code" json:"item_code"`
	Action    string    `db:"action" json:"action"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type StockReportRow struct {
	Code      string `db:"code" json:"code"`
	Name      string `db:"name" json:"name"`
	Received  int    `db:"received" json:"received"`
	Used      int    `db:"used" json:"used"`
	Remaining int    `db:"remaining" json:"remaining"`
}

// LedgerRecord is the unified read-only projection of sales and expenses.
// EntryType tags the origin row; DisplayID renders expenses as EXP#### for
// screens that still expect the legacy identifier style.
type LedgerRecord struct {
	DisplayID            string          `json:"id"`
	EntryType            string          `json:"type"`
	Description          string          `json:"description,omitempty"`
	Lines                []SaleLine      `json:"lines"`
	Total                decimal.Decimal `json:"total"`
	PaymentMethod        string          `json:"payment_method"`
	CustomerName         string          `json:"customer_name"`
	Paid                 bool            `json:"paid"`
	CreditStatus         bool            `json:"credit_status"`
	Date                 string          `json:"date"`
	DateCleared          string          `json:"date_cleared,omitempty"`
	PaymentMethodCleared string          `json:"payment_method_cleared,omitempty"`
}

type Summary struct {
	TotalSales       decimal.Decimal `json:"total_sales"`
	TotalCredits     decimal.Decimal `json:"total_credits"`
	TotalExpenses    decimal.Decimal `json:"total_expenses"`
	Balance          decimal.Decimal `json:"system_balance"`
	TransactionCount int64           `json:"total_transactions"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
