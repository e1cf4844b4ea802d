package store

import (
	"fmt"
	"sort"
	"time"

	"dukapos/backend/internal/domain"
)

// MergeLedger builds the unified sale+expense projection, newest date first
// and newest insertion first within a day. Both store engines use it so they
// present the identical view.
func MergeLedger(txns []domain.Transaction, expenses []domain.Expense) []domain.LedgerRecord {
	records := make([]domain.LedgerRecord, 0, len(txns)+len(expenses))
	createdAt := make([]time.Time, 0, len(txns)+len(expenses))

	for _, txn := range txns {
		createdAt = append(createdAt, txn.CreatedAt)
		records = append(records, domain.LedgerRecord{
			DisplayID:            txn.ID,
			EntryType:            domain.EntryTypeSale,
			Lines:                txn.Lines,
			Total:                txn.Total,
			PaymentMethod:        txn.PaymentMethod,
			CustomerName:         txn.CustomerName,
			Paid:                 txn.Paid,
			CreditStatus:         txn.CreditStatus,
			Date:                 txn.Date,
			DateCleared:          txn.DateCleared,
			PaymentMethodCleared: txn.PaymentMethodCleared,
		})
	}
	for _, exp := range expenses {
		createdAt = append(createdAt, exp.CreatedAt)
		records = append(records, domain.LedgerRecord{
			DisplayID:     fmt.Sprintf("EXP%04d", exp.ID),
			EntryType:     domain.EntryTypeExpense,
			Description:   exp.Description,
			Lines:         []domain.SaleLine{},
			Total:         exp.Amount,
			PaymentMethod: "-",
			Paid:          true,
			Date:          exp.Date,
		})
	}

	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if records[a].Date != records[b].Date {
			return records[a].Date > records[b].Date
		}
		return createdAt[a].After(createdAt[b])
	})

	sorted := make([]domain.LedgerRecord, len(records))
	for i, idx := range order {
		sorted[i] = records[idx]
	}
	return sorted
}
