package integration

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
)

// adjustmentAmount is the absolute cost of the adjustment in cents.
func adjustmentAmount(evt inventory.AdjustmentPostedEvent) decimal.Decimal {
	return evt.Value().Abs()
}

func adjustmentRef(evt inventory.AdjustmentPostedEvent) string {
	return fmt.Sprintf("ADJ:%d", evt.LedgerEntryID)
}

func adjustmentMemo(evt inventory.AdjustmentPostedEvent) string {
	memo := fmt.Sprintf("Inventory adjustment product %d warehouse %d qty %s", evt.ProductID, evt.WarehouseID, evt.Quantity.String())
	if evt.Note != "" {
		memo += ": " + evt.Note
	}
	return memo
}

// adjustmentLines debits inventory on a write-up and credits it on a write-down.
func adjustmentLines(evt inventory.AdjustmentPostedEvent, amount decimal.Decimal, inventoryAccount, counterAccount int64) []accounting.PostingLineInput {
	if evt.Quantity.IsNegative() {
		return []accounting.PostingLineInput{
			{AccountID: counterAccount, Debit: amount},
			{AccountID: inventoryAccount, Credit: amount},
		}
	}
	return []accounting.PostingLineInput{
		{AccountID: inventoryAccount, Debit: amount},
		{AccountID: counterAccount, Credit: amount},
	}
}
