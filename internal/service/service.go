package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service enforces role gating and input validation in front of the store.
// Cashiers can record sales and expenses and read everything; catalog edits,
// credit clearance, deletions and settings writes need the admin role.
type Service struct {
	repo store.Repository
}

func New(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// ── Item catalog ──────────────────────────────────────────────────────────────

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) GetItem(ctx context.Context, code string) (*domain.Item, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, store.ErrValidation
	}
	return s.repo.GetItem(ctx, code)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (*domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	if req.Kind == "" {
		req.Kind = domain.KindProduct
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if req.Kind != domain.KindProduct && req.Kind != domain.KindService {
		return nil, fmt.Errorf("%w: kind must be product or service", store.ErrValidation)
	}
	if req.Price.IsNegative() || req.BuyingPrice.IsNegative() {
		return nil, fmt.Errorf("%w: prices must not be negative", store.ErrValidation)
	}
	if req.Quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", store.ErrValidation)
	}

	item := domain.Item{
		Name:        req.Name,
		Kind:        req.Kind,
		Price:       req.Price,
		BuyingPrice: req.BuyingPrice,
		Quantity:    req.Quantity,
		UnitLabel:   strings.TrimSpace(req.UnitLabel),
	}
	if req.SellingPrice != nil {
		if req.SellingPrice.IsNegative() {
			return nil, fmt.Errorf("%w: prices must not be negative", store.ErrValidation)
		}
		item.SellingPrice = *req.SellingPrice
	}

	return s.repo.CreateItem(ctx, item)
}

func (s *Service) UpdateItem(ctx context.Context, code string, req domain.ItemUpdateRequest) (*domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	code = strings.TrimSpace(code)
	req.Name = strings.TrimSpace(req.Name)
	if code == "" || req.Name == "" {
		return nil, store.ErrValidation
	}
	if req.Quantity < 0 || req.BuyingPrice.IsNegative() || req.SellingPrice.IsNegative() {
		return nil, store.ErrValidation
	}

	return s.repo.UpdateItem(ctx, code, req)
}

func (s *Service) AdjustQuantity(ctx context.Context, code string, delta int) (*domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, store.ErrValidation
	}

	return s.repo.AdjustQuantity(ctx, code, delta)
}

func (s *Service) DeleteItems(ctx context.Context, codes []string) (int, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return 0, fmt.Errorf("admin role required")
	}
	if len(codes) == 0 {
		return 0, store.ErrValidation
	}
	return s.repo.DeleteItems(ctx, codes)
}

// ── Services catalog ──────────────────────────────────────────────────────────

func (s *Service) ListServices(ctx context.Context) ([]domain.SellableService, error) {
	return s.repo.ListServices(ctx)
}

func (s *Service) CreateService(ctx context.Context, req domain.ServiceUpsertRequest) (*domain.SellableService, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Price.IsNegative() {
		return nil, store.ErrValidation
	}

	return s.repo.CreateService(ctx, domain.SellableService{Name: req.Name, Price: req.Price})
}

func (s *Service) UpdateService(ctx context.Context, id int64, req domain.ServiceUpsertRequest) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if id < 1 || req.Name == "" || req.Price.IsNegative() {
		return store.ErrValidation
	}

	return s.repo.UpdateService(ctx, id, req)
}

func (s *Service) DeleteService(ctx context.Context, id int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	if id < 1 {
		return store.ErrValidation
	}
	return s.repo.DeleteService(ctx, id)
}

// ── Sales ─────────────────────────────────────────────────────────────────────

func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Transaction, error) {
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.Date = strings.TrimSpace(req.Date)

	switch req.PaymentMethod {
	case domain.PaymentCash, domain.PaymentMpesa, domain.PaymentCredit:
	default:
		return nil, fmt.Errorf("%w: payment method must be Cash, Mpesa or Credit", store.ErrValidation)
	}
	if req.PaymentMethod == domain.PaymentCredit && req.CustomerName == "" {
		return nil, fmt.Errorf("%w: credit sales require a customer name", store.ErrValidation)
	}
	if req.Date != "" {
		if _, err := time.Parse(domain.DateLayout, req.Date); err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
	}
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: sale needs at least one line", store.ErrValidation)
	}
	for i, line := range req.Lines {
		req.Lines[i].ItemCode = strings.TrimSpace(line.ItemCode)
		hasItem := req.Lines[i].ItemCode != ""
		hasService := line.ServiceID != 0
		if hasItem == hasService {
			return nil, fmt.Errorf("%w: each line sells exactly one item or one service", store.ErrValidation)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: line quantity must be at least 1", store.ErrValidation)
		}
	}

	return s.repo.CreateSale(ctx, req)
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, store.ErrValidation
	}
	return s.repo.GetTransaction(ctx, id)
}

func (s *Service) ListLedger(ctx context.Context) ([]domain.LedgerRecord, error) {
	return s.repo.ListLedger(ctx)
}

func (s *Service) DeleteTransactions(ctx context.Context, ids []string) (int, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return 0, fmt.Errorf("admin role required")
	}
	if len(ids) == 0 {
		return 0, store.ErrValidation
	}
	return s.repo.DeleteTransactions(ctx, ids)
}

// ── Credits ───────────────────────────────────────────────────────────────────

func (s *Service) ListCredits(ctx context.Context) (map[string]domain.CreditEntry, error) {
	return s.repo.ListCredits(ctx)
}

// ClearCredit settles a customer's whole balance. The settlement method must
// be a real tender; clearing credit with more credit is not a thing.
func (s *Service) ClearCredit(ctx context.Context, customer string, req domain.ClearCreditRequest) (bool, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return false, fmt.Errorf("admin role required")
	}

	customer = strings.TrimSpace(customer)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	req.Date = strings.TrimSpace(req.Date)
	if customer == "" {
		return false, store.ErrValidation
	}
	if req.PaymentMethod != domain.PaymentCash && req.PaymentMethod != domain.PaymentMpesa {
		return false, fmt.Errorf("%w: clearance method must be Cash or Mpesa", store.ErrValidation)
	}
	if req.Date != "" {
		if _, err := time.Parse(domain.DateLayout, req.Date); err != nil {
			return false, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
	}

	return s.repo.ClearCredit(ctx, customer, req.PaymentMethod, req.Date)
}

func (s *Service) DeleteCredits(ctx context.Context, customers []string) (int, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return 0, fmt.Errorf("admin role required")
	}
	if len(customers) == 0 {
		return 0, store.ErrValidation
	}
	return s.repo.DeleteCredits(ctx, customers)
}

// ── Expenses ──────────────────────────────────────────────────────────────────

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (*domain.Expense, error) {
	req.Description = strings.TrimSpace(req.Description)
	req.Date = strings.TrimSpace(req.Date)
	if req.Description == "" {
		return nil, fmt.Errorf("%w: description is required", store.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	if req.Date != "" {
		if _, err := time.Parse(domain.DateLayout, req.Date); err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
	}

	return s.repo.CreateExpense(ctx, domain.Expense{
		Description: req.Description,
		Amount:      req.Amount,
		Date:        req.Date,
	})
}

func (s *Service) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	return s.repo.ListExpenses(ctx)
}

func (s *Service) DeleteExpenses(ctx context.Context, ids []int64) (int, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return 0, fmt.Errorf("admin role required")
	}
	if len(ids) == 0 {
		return 0, store.ErrValidation
	}
	return s.repo.DeleteExpenses(ctx, ids)
}

// ── Reports ───────────────────────────────────────────────────────────────────

func (s *Service) StockReport(ctx context.Context) ([]domain.StockReportRow, error) {
	return s.repo.StockReport(ctx)
}

func (s *Service) ListStockLog(ctx context.Context, itemCode string) ([]domain.StockLogEntry, error) {
	return s.repo.ListStockLog(ctx, strings.TrimSpace(itemCode))
}

func (s *Service) Summary(ctx context.Context) (domain.Summary, error) {
	return s.repo.Summary(ctx)
}

// ── Settings ──────────────────────────────────────────────────────────────────

func (s *Service) GetSetting(ctx context.Context, key string, fallback string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", store.ErrValidation
	}
	return s.repo.GetSetting(ctx, key, fallback)
}

func (s *Service) SetSetting(ctx context.Context, key string, value string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return store.ErrValidation
	}
	return s.repo.SetSetting(ctx, key, value)
}
