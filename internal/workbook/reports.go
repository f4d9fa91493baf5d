package workbook

import (
	"fmt"
	"io"

	"github.com/UnknownOlympus/hermes/internal/aggregate"
	"github.com/xuri/excelize/v2"
)

// Report sheet names.
const (
	SheetCategoryTotals = "Category Totals"
	SheetTopCustomers   = "Top Customers"
	SheetCustomerRank   = "Customer Rank"
)

const defaultSheet = "Sheet1"

// WriteReports renders the three reports into a new workbook and writes it to w.
func WriteReports(w io.Writer, reports *aggregate.Reports) error {
	file := excelize.NewFile()
	defer file.Close()

	tables := []struct {
		name string
		rows [][]any
	}{
		{SheetCategoryTotals, categoryTotalRows(reports.CategoryTotals)},
		{SheetTopCustomers, topCustomerRows(reports.TopCustomers)},
		{SheetCustomerRank, rankRows(reports.CustomerRanks)},
	}

	for _, table := range tables {
		if _, err := file.NewSheet(table.name); err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", table.name, err)
		}

		for r, row := range table.rows {
			cellName, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return fmt.Errorf("failed to address row %d: %w", r+1, err)
			}
			if err = file.SetSheetRow(table.name, cellName, &row); err != nil {
				return fmt.Errorf("failed to write sheet %q row %d: %w", table.name, r+1, err)
			}
		}
	}

	if err := file.DeleteSheet(defaultSheet); err != nil {
		return fmt.Errorf("failed to remove default sheet: %w", err)
	}
	file.SetActiveSheet(0)

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	return nil
}

func categoryTotalRows(totals []aggregate.CategoryTotal) [][]any {
	rows := [][]any{{"customer_id", "category", "amount"}}
	for _, total := range totals {
		rows = append(rows, []any{total.CustomerID, total.Category, total.Amount.InexactFloat64()})
	}
	return rows
}

func topCustomerRows(top []aggregate.TopCustomer) [][]any {
	rows := [][]any{{"category", "customer_id", "amount"}}
	for _, entry := range top {
		rows = append(rows, []any{entry.Category, entry.CustomerID, entry.Amount.InexactFloat64()})
	}
	return rows
}

func rankRows(ranks []aggregate.CustomerRank) [][]any {
	rows := [][]any{{"customer_id", "amount", "rank"}}
	for _, entry := range ranks {
		rows = append(rows, []any{entry.CustomerID, entry.Amount.InexactFloat64(), entry.Rank})
	}
	return rows
}
