package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.New())
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func mustCreateProduct(t *testing.T, svc *Service, name string, price string, qty int) *domain.Item {
	t.Helper()
	item, err := svc.CreateItem(adminCtx(), domain.ItemCreateRequest{
		Name:     name,
		Kind:     domain.KindProduct,
		Price:    dec(t, price),
		Quantity: qty,
	})
	if err != nil {
		t.Fatalf("create item %s: %v", name, err)
	}
	return item
}

func TestCreateItemAssignsSequentialCodes(t *testing.T) {
	svc := newTestService()

	first := mustCreateProduct(t, svc, "Airtime Voucher", "50", 10)
	second := mustCreateProduct(t, svc, "Phone Case", "250", 4)

	if first.Code != "ITEM001" {
		t.Fatalf("expected first code ITEM001, got %s", first.Code)
	}
	if second.Code != "ITEM002" {
		t.Fatalf("expected second code ITEM002, got %s", second.Code)
	}

	entries, err := svc.ListStockLog(adminCtx(), first.Code)
	if err != nil {
		t.Fatalf("list stock log: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != domain.StockActionAdded || entries[0].Quantity != 10 {
		t.Fatalf("expected one opening-stock movement of 10, got %+v", entries)
	}
}

func TestCreateItemRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateItem(cashierCtx(), domain.ItemCreateRequest{
		Name:  "Pen",
		Kind:  domain.KindProduct,
		Price: dec(t, "20"),
	})
	if err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin gate, got %v", err)
	}
}

func TestSaleDecrementsStockAndLogsMovement(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Exercise Book", "30", 10)

	txn, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 3}},
		PaymentMethod: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if txn.ID != "TXN0001" {
		t.Fatalf("expected TXN0001, got %s", txn.ID)
	}
	if !txn.Paid || txn.CreditStatus {
		t.Fatalf("cash sale should be paid and not credit: %+v", txn)
	}
	if !txn.Total.Equal(dec(t, "90")) {
		t.Fatalf("expected total 90, got %s", txn.Total)
	}

	after, err := svc.GetItem(cashierCtx(), item.Code)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if after.Quantity != 7 {
		t.Fatalf("expected stock 7, got %d", after.Quantity)
	}

	entries, err := svc.ListStockLog(cashierCtx(), item.Code)
	if err != nil {
		t.Fatalf("list stock log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected opening + sale movements, got %d", len(entries))
	}
	last := entries[len(entries)-1]
	if last.Action != domain.StockActionUsed || last.Quantity != 3 {
		t.Fatalf("expected used movement of 3, got %+v", last)
	}
}

func TestSaleRejectsInsufficientStock(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "USB Cable", "150", 2)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 5}},
		PaymentMethod: domain.PaymentCash,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	after, err := svc.GetItem(cashierCtx(), item.Code)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if after.Quantity != 2 {
		t.Fatalf("failed sale must not touch stock, got %d", after.Quantity)
	}

	records, err := svc.ListLedger(cashierCtx())
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("failed sale must not be journaled, got %d records", len(records))
	}
}

func TestSaleChecksCombinedDrawForRepeatedLines(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Envelope", "10", 5)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines: []domain.SaleLine{
			{ItemCode: item.Code, Quantity: 3},
			{ItemCode: item.Code, Quantity: 3},
		},
		PaymentMethod: domain.PaymentCash,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for combined draw of 6 from 5, got %v", err)
	}
}

func TestServiceSaleSkipsStockTracking(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Printing Paper", "5", 100)

	created, err := svc.CreateService(adminCtx(), domain.ServiceUpsertRequest{
		Name:  "Phone Repair",
		Price: dec(t, "500"),
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	txn, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines: []domain.SaleLine{
			{ServiceID: created.ID, Quantity: 2},
			{ItemCode: item.Code, Quantity: 10},
		},
		PaymentMethod: domain.PaymentMpesa,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if !txn.Total.Equal(dec(t, "1050")) {
		t.Fatalf("expected total 1050, got %s", txn.Total)
	}

	after, err := svc.GetItem(cashierCtx(), item.Code)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if after.Quantity != 90 {
		t.Fatalf("expected product stock 90, got %d", after.Quantity)
	}
}

func TestSaleLineMustSellExactlyOneThing(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Stapler", "300", 3)

	for _, line := range []domain.SaleLine{
		{Quantity: 1},
		{ItemCode: item.Code, ServiceID: 9, Quantity: 1},
	} {
		_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
			Lines:         []domain.SaleLine{line},
			PaymentMethod: domain.PaymentCash,
		})
		if !errors.Is(err, store.ErrValidation) {
			t.Fatalf("expected validation error for line %+v, got %v", line, err)
		}
	}
}

func TestCreditSaleAccruesToCustomer(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Memory Card", "800", 10)

	first, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 1}},
		PaymentMethod: domain.PaymentCredit,
		CustomerName:  "Wanjiku",
	})
	if err != nil {
		t.Fatalf("first credit sale: %v", err)
	}
	second, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 2}},
		PaymentMethod: domain.PaymentCredit,
		CustomerName:  "Wanjiku",
	})
	if err != nil {
		t.Fatalf("second credit sale: %v", err)
	}
	if first.Paid || !first.CreditStatus {
		t.Fatalf("credit sale should be unpaid: %+v", first)
	}

	credits, err := svc.ListCredits(cashierCtx())
	if err != nil {
		t.Fatalf("list credits: %v", err)
	}
	entry, ok := credits["Wanjiku"]
	if !ok {
		t.Fatalf("expected credit entry for Wanjiku")
	}
	if !entry.Amount.Equal(dec(t, "2400")) {
		t.Fatalf("expected outstanding 2400, got %s", entry.Amount)
	}
	if len(entry.TransactionIDs) != 2 || entry.TransactionIDs[0] != first.ID || entry.TransactionIDs[1] != second.ID {
		t.Fatalf("expected both transaction ids, got %v", entry.TransactionIDs)
	}
	if entry.Status != domain.CreditStatusPending {
		t.Fatalf("expected Pending, got %s", entry.Status)
	}

	// Unpaid sales stay out of the balance.
	summary, err := svc.Summary(cashierCtx())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !summary.Balance.IsZero() {
		t.Fatalf("expected zero balance before clearance, got %s", summary.Balance)
	}
}

func TestCreditSaleRequiresCustomerName(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Flash Disk", "900", 3)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 1}},
		PaymentMethod: domain.PaymentCredit,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClearCreditSettlesEveryReferencedSale(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Router", "3500", 5)

	txn, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 1}},
		PaymentMethod: domain.PaymentCredit,
		CustomerName:  "Otieno",
		Date:          "2026-08-01",
	})
	if err != nil {
		t.Fatalf("credit sale: %v", err)
	}

	cleared, err := svc.ClearCredit(adminCtx(), "Otieno", domain.ClearCreditRequest{
		PaymentMethod: domain.PaymentMpesa,
		Date:          "2026-08-15",
	})
	if err != nil {
		t.Fatalf("clear credit: %v", err)
	}
	if !cleared {
		t.Fatalf("expected clearance to find the entry")
	}

	settled, err := svc.GetTransaction(cashierCtx(), txn.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if !settled.Paid || settled.CreditStatus {
		t.Fatalf("cleared sale should be paid: %+v", settled)
	}
	if settled.PaymentMethodCleared != domain.PaymentMpesa || settled.DateCleared != "2026-08-15" {
		t.Fatalf("missing clearance stamps: %+v", settled)
	}

	credits, err := svc.ListCredits(cashierCtx())
	if err != nil {
		t.Fatalf("list credits: %v", err)
	}
	entry := credits["Otieno"]
	if !entry.Amount.IsZero() || entry.Status != domain.CreditStatusCleared {
		t.Fatalf("expected zeroed cleared entry, got %+v", entry)
	}

	summary, err := svc.Summary(cashierCtx())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !summary.Balance.Equal(dec(t, "3500")) {
		t.Fatalf("cleared sale should enter the balance, got %s", summary.Balance)
	}
}

func TestClearCreditRejectsCreditAsTender(t *testing.T) {
	svc := newTestService()

	_, err := svc.ClearCredit(adminCtx(), "Otieno", domain.ClearCreditRequest{
		PaymentMethod: domain.PaymentCredit,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClearCreditUnknownCustomerReportsFalse(t *testing.T) {
	svc := newTestService()

	cleared, err := svc.ClearCredit(adminCtx(), "Nobody", domain.ClearCreditRequest{
		PaymentMethod: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("clear credit: %v", err)
	}
	if cleared {
		t.Fatalf("expected no entry for unknown customer")
	}
}

func TestCreditReopensAfterClearance(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Keyboard", "1200", 10)

	sale := func(qty int) *domain.Transaction {
		txn, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
			Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: qty}},
			PaymentMethod: domain.PaymentCredit,
			CustomerName:  "Achieng",
		})
		if err != nil {
			t.Fatalf("credit sale: %v", err)
		}
		return txn
	}

	sale(1)
	if _, err := svc.ClearCredit(adminCtx(), "Achieng", domain.ClearCreditRequest{PaymentMethod: domain.PaymentCash}); err != nil {
		t.Fatalf("clear credit: %v", err)
	}
	reopened := sale(2)

	credits, err := svc.ListCredits(cashierCtx())
	if err != nil {
		t.Fatalf("list credits: %v", err)
	}
	entry := credits["Achieng"]
	if entry.Status != domain.CreditStatusPending {
		t.Fatalf("expected fresh pending cycle, got %s", entry.Status)
	}
	if !entry.Amount.Equal(dec(t, "2400")) {
		t.Fatalf("expected outstanding 2400, got %s", entry.Amount)
	}
	if len(entry.TransactionIDs) != 1 || entry.TransactionIDs[0] != reopened.ID {
		t.Fatalf("expected only the new sale in the cycle, got %v", entry.TransactionIDs)
	}
}

func TestSaleTotalIsFrozenAgainstLaterRepricing(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Notebook", "100", 10)

	txn, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 2}},
		PaymentMethod: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	_, err = svc.UpdateItem(adminCtx(), item.Code, domain.ItemUpdateRequest{
		Name:         "Notebook",
		Quantity:     8,
		BuyingPrice:  dec(t, "60"),
		SellingPrice: dec(t, "150"),
	})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}

	frozen, err := svc.GetTransaction(cashierCtx(), txn.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if !frozen.Total.Equal(dec(t, "200")) {
		t.Fatalf("repricing must not rewrite history, got %s", frozen.Total)
	}

	next, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 1}},
		PaymentMethod: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if !next.Total.Equal(dec(t, "150")) {
		t.Fatalf("new sales should use the new price, got %s", next.Total)
	}
}

func TestBalanceSubtractsExpensesAndIsIdempotent(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Soda", "60", 24)

	if _, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 5}},
		PaymentMethod: domain.PaymentCash,
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := svc.CreateExpense(cashierCtx(), domain.ExpenseCreateRequest{
		Description: "electricity token",
		Amount:      dec(t, "120"),
	}); err != nil {
		t.Fatalf("create expense: %v", err)
	}

	first, err := svc.Summary(cashierCtx())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !first.Balance.Equal(dec(t, "180")) {
		t.Fatalf("expected balance 180, got %s", first.Balance)
	}
	if !first.TotalSales.Equal(dec(t, "300")) || !first.TotalExpenses.Equal(dec(t, "120")) {
		t.Fatalf("unexpected summary: %+v", first)
	}

	second, err := svc.Summary(cashierCtx())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !second.Balance.Equal(first.Balance) {
		t.Fatalf("summary is a read: %s vs %s", first.Balance, second.Balance)
	}
}

func TestLedgerMergesSalesAndExpensesNewestDateFirst(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Bread", "55", 10)

	if _, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 1}},
		PaymentMethod: domain.PaymentCash,
		Date:          "2026-08-10",
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := svc.CreateExpense(cashierCtx(), domain.ExpenseCreateRequest{
		Description: "rent",
		Amount:      dec(t, "5000"),
		Date:        "2026-08-20",
	}); err != nil {
		t.Fatalf("create expense: %v", err)
	}

	records, err := svc.ListLedger(cashierCtx())
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].EntryType != domain.EntryTypeExpense || records[0].DisplayID != "EXP0001" {
		t.Fatalf("expected newest-first with EXP0001 on top, got %+v", records[0])
	}
	if records[1].EntryType != domain.EntryTypeSale || records[1].DisplayID != "TXN0001" {
		t.Fatalf("expected sale second, got %+v", records[1])
	}
}

func TestAdjustQuantityCannotDriveStockNegative(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Glue Stick", "90", 3)

	_, err := svc.AdjustQuantity(adminCtx(), item.Code, -5)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	updated, err := svc.AdjustQuantity(adminCtx(), item.Code, -3)
	if err != nil {
		t.Fatalf("adjust to zero: %v", err)
	}
	if updated.Quantity != 0 {
		t.Fatalf("expected zero stock, got %d", updated.Quantity)
	}
}

func TestMutationsRequireAdminRole(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	calls := map[string]func() error{
		"update item": func() error {
			_, err := svc.UpdateItem(ctx, "ITEM001", domain.ItemUpdateRequest{Name: "x"})
			return err
		},
		"adjust quantity": func() error {
			_, err := svc.AdjustQuantity(ctx, "ITEM001", 1)
			return err
		},
		"delete items": func() error {
			_, err := svc.DeleteItems(ctx, []string{"ITEM001"})
			return err
		},
		"create service": func() error {
			_, err := svc.CreateService(ctx, domain.ServiceUpsertRequest{Name: "x"})
			return err
		},
		"clear credit": func() error {
			_, err := svc.ClearCredit(ctx, "x", domain.ClearCreditRequest{PaymentMethod: domain.PaymentCash})
			return err
		},
		"delete credits": func() error {
			_, err := svc.DeleteCredits(ctx, []string{"x"})
			return err
		},
		"delete transactions": func() error {
			_, err := svc.DeleteTransactions(ctx, []string{"TXN0001"})
			return err
		},
		"delete expenses": func() error {
			_, err := svc.DeleteExpenses(ctx, []int64{1})
			return err
		},
		"set setting": func() error {
			return svc.SetSetting(ctx, "shop_name", "Duka")
		},
	}

	for name, call := range calls {
		err := call()
		if err == nil || !strings.Contains(err.Error(), "admin role required") {
			t.Fatalf("%s: expected admin gate, got %v", name, err)
		}
	}
}

func TestStockReportCoversProductsOnly(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Candle", "25", 12)
	if _, err := svc.CreateItem(adminCtx(), domain.ItemCreateRequest{
		Name:  "Lamination",
		Kind:  domain.KindService,
		Price: dec(t, "100"),
	}); err != nil {
		t.Fatalf("create service item: %v", err)
	}

	if _, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: product.Code, Quantity: 4}},
		PaymentMethod: domain.PaymentCash,
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	report, err := svc.StockReport(cashierCtx())
	if err != nil {
		t.Fatalf("stock report: %v", err)
	}
	if len(report) != 1 {
		t.Fatalf("service items must not appear in the stock report, got %d rows", len(report))
	}
	row := report[0]
	if row.Code != product.Code || row.Received != 12 || row.Used != 4 || row.Remaining != 8 {
		t.Fatalf("unexpected stock row: %+v", row)
	}
}

func TestSettingsFallBackToDefault(t *testing.T) {
	svc := newTestService()

	value, err := svc.GetSetting(cashierCtx(), "shop_name", "Duka POS")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	if value != "Duka POS" {
		t.Fatalf("expected fallback, got %q", value)
	}

	if err := svc.SetSetting(adminCtx(), "shop_name", "Bahati Cyber"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	value, err = svc.GetSetting(cashierCtx(), "shop_name", "Duka POS")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	if value != "Bahati Cyber" {
		t.Fatalf("expected stored value, got %q", value)
	}
}

func TestExpenseValidation(t *testing.T) {
	svc := newTestService()

	if _, err := svc.CreateExpense(cashierCtx(), domain.ExpenseCreateRequest{Amount: dec(t, "10")}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for missing description, got %v", err)
	}
	if _, err := svc.CreateExpense(cashierCtx(), domain.ExpenseCreateRequest{Description: "tea", Amount: dec(t, "0")}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
	if _, err := svc.CreateExpense(cashierCtx(), domain.ExpenseCreateRequest{Description: "tea", Amount: dec(t, "50"), Date: "20/08/2026"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for bad date, got %v", err)
	}
}

func TestSaleRejectsUnknownPaymentMethod(t *testing.T) {
	svc := newTestService()
	item := mustCreateProduct(t, svc, "Marker", "80", 5)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:         []domain.SaleLine{{ItemCode: item.Code, Quantity: 1}},
		PaymentMethod: "Cheque",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
