package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(context.Background(), filepath.Join(t.TempDir(), "pos.db"), 2000)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateSeedsDefaultUsers(t *testing.T) {
	s := newTestStore(t)

	users, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	roles := make(map[string]string, len(users))
	for _, u := range users {
		roles[u.Username] = u.Role
	}
	if roles["admin"] != "admin" || roles["cashier"] != "cashier" {
		t.Fatalf("expected seeded admin and cashier, got %v", roles)
	}
}

func TestCreateSalePersistsAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.CreateItem(ctx, domain.Item{
		Name:     "Sugar 1kg",
		Kind:     domain.KindProduct,
		Price:    decimal.NewFromInt(150),
		Quantity: 8,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if item.Code != "ITEM001" {
		t.Fatalf("expected ITEM001, got %s", item.Code)
	}

	txn, err := s.CreateSale(ctx, domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 3}},
		PaymentMethod: domain.PaymentCash,
		Date:          "2026-08-25",
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if txn.ID != "TXN0001" || !txn.Total.Equal(decimal.NewFromInt(450)) {
		t.Fatalf("unexpected transaction %+v", txn)
	}

	// Survives a reload from the same row.
	loaded, err := s.GetTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if len(loaded.Lines) != 1 || loaded.Lines[0].ItemCode != item.Code {
		t.Fatalf("lines did not round-trip: %+v", loaded.Lines)
	}

	after, err := s.GetItem(ctx, item.Code)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if after.Quantity != 5 {
		t.Fatalf("expected stock 5, got %d", after.Quantity)
	}

	report, err := s.StockReport(ctx)
	if err != nil {
		t.Fatalf("stock report: %v", err)
	}
	if len(report) != 1 || report[0].Received != 8 || report[0].Used != 3 || report[0].Remaining != 5 {
		t.Fatalf("unexpected stock report %+v", report)
	}
}

func TestCreateSaleFailureLeavesNoPartialState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.CreateItem(ctx, domain.Item{
		Name:     "Milk 500ml",
		Kind:     domain.KindProduct,
		Price:    decimal.NewFromInt(60),
		Quantity: 2,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	_, err = s.CreateSale(ctx, domain.SaleRequest{
		Lines: []domain.SaleLine{
			{ItemCode: item.Code, Quantity: 1},
			{ItemCode: item.Code, Quantity: 2},
		},
		PaymentMethod: domain.PaymentCash,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	after, err := s.GetItem(ctx, item.Code)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if after.Quantity != 2 {
		t.Fatalf("rollback must restore stock, got %d", after.Quantity)
	}

	records, err := s.ListLedger(ctx)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty ledger after rollback, got %d records", len(records))
	}

	// The failed attempt must not burn the sale sequence visible to users.
	txn, err := s.CreateSale(ctx, domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 1}},
		PaymentMethod: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if txn.ID != "TXN0001" {
		t.Fatalf("expected TXN0001 after rolled-back attempt, got %s", txn.ID)
	}
}

func TestCreditLifecycleOnDisk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.CreateItem(ctx, domain.Item{
		Name:     "Charger",
		Kind:     domain.KindProduct,
		Price:    decimal.NewFromInt(700),
		Quantity: 4,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	txn, err := s.CreateSale(ctx, domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 2}},
		PaymentMethod: domain.PaymentCredit,
		CustomerName:  "Njoroge",
		Date:          "2026-08-01",
	})
	if err != nil {
		t.Fatalf("credit sale: %v", err)
	}

	credits, err := s.ListCredits(ctx)
	if err != nil {
		t.Fatalf("list credits: %v", err)
	}
	entry := credits["Njoroge"]
	if !entry.Amount.Equal(decimal.NewFromInt(1400)) || entry.Status != domain.CreditStatusPending {
		t.Fatalf("unexpected credit entry %+v", entry)
	}

	balance, err := s.SystemBalance(ctx)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("unpaid sale must not count, got %s", balance)
	}

	cleared, err := s.ClearCredit(ctx, "Njoroge", domain.PaymentCash, "2026-08-05")
	if err != nil {
		t.Fatalf("clear credit: %v", err)
	}
	if !cleared {
		t.Fatalf("expected clearance to succeed")
	}

	settled, err := s.GetTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if !settled.Paid || settled.DateCleared != "2026-08-05" || settled.PaymentMethodCleared != domain.PaymentCash {
		t.Fatalf("clearance stamps missing: %+v", settled)
	}

	balance, err = s.SystemBalance(ctx)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(1400)) {
		t.Fatalf("cleared sale must count, got %s", balance)
	}
}

func TestSettingsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	value, err := s.GetSetting(ctx, "receipt_footer", "Karibu tena")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	if value != "Karibu tena" {
		t.Fatalf("expected fallback, got %q", value)
	}

	if err := s.SetSetting(ctx, "receipt_footer", "Asante"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	if err := s.SetSetting(ctx, "receipt_footer", "Asante sana"); err != nil {
		t.Fatalf("overwrite setting: %v", err)
	}

	value, err = s.GetSetting(ctx, "receipt_footer", "Karibu tena")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	if value != "Asante sana" {
		t.Fatalf("expected latest value, got %q", value)
	}
}
