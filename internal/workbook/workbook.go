package workbook

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/UnknownOlympus/hermes/internal/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Required sheet names of an uploaded workbook.
const (
	SheetCustomers    = "Customers"
	SheetTransactions = "Transactions"
	SheetProducts     = "Products"
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("workbook validation failed")

// ValidationError reports a structural problem with an uploaded workbook.
type ValidationError struct {
	Sheet  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Sheet == "" {
		return fmt.Sprintf("invalid workbook: %s", e.Reason)
	}
	return fmt.Sprintf("invalid workbook: sheet %q: %s", e.Sheet, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Workbook holds the decoded content of the three input sheets.
type Workbook struct {
	Customers    []string
	Transactions []models.Transaction
	Products     []models.Product
}

// Read decodes and validates an uploaded workbook.
func Read(r io.Reader) (*Workbook, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("cannot open file: %v", err)}
	}
	defer file.Close()

	sheets, err := loadSheets(file)
	if err != nil {
		return nil, err
	}

	customers := readCustomers(sheets[SheetCustomers])
	if len(customers) == 0 {
		return nil, &ValidationError{Sheet: SheetCustomers, Reason: "no data rows"}
	}

	transactions, err := readTransactions(sheets[SheetTransactions])
	if err != nil {
		return nil, err
	}

	products, err := readProducts(sheets[SheetProducts])
	if err != nil {
		return nil, err
	}

	return &Workbook{Customers: customers, Transactions: transactions, Products: products}, nil
}

// loadSheets returns the rows of each required sheet. Sheet names match case-insensitively.
func loadSheets(file *excelize.File) (map[string][][]string, error) {
	present := make(map[string]string)
	for _, name := range file.GetSheetList() {
		present[strings.ToLower(strings.TrimSpace(name))] = name
	}

	sheets := make(map[string][][]string, 3)
	for _, required := range []string{SheetCustomers, SheetTransactions, SheetProducts} {
		actual, ok := present[strings.ToLower(required)]
		if !ok {
			return nil, &ValidationError{Sheet: required, Reason: "sheet is missing"}
		}

		rows, err := file.GetRows(actual, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, &ValidationError{Sheet: required, Reason: fmt.Sprintf("cannot read rows: %v", err)}
		}
		if len(dataRows(rows)) == 0 {
			return nil, &ValidationError{Sheet: required, Reason: "no data rows"}
		}

		sheets[required] = rows
	}

	return sheets, nil
}

// dataRows drops the header row and any blank rows after it.
func dataRows(rows [][]string) [][]string {
	if len(rows) < 2 {
		return nil
	}

	data := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if !blank(row) {
			data = append(data, row)
		}
	}

	return data
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func readCustomers(rows [][]string) []string {
	var packed []string
	for _, row := range dataRows(rows) {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		packed = append(packed, row[0])
	}

	return packed
}

func readTransactions(rows [][]string) ([]models.Transaction, error) {
	columns, err := locate(SheetTransactions, rows[0], "customer_id", "product_code", "amount")
	if err != nil {
		return nil, err
	}

	var transactions []models.Transaction
	for idx, row := range rows[1:] {
		if blank(row) {
			continue
		}

		raw := cell(row, columns["amount"])
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, &ValidationError{
				Sheet:  SheetTransactions,
				Reason: fmt.Sprintf("row %d: invalid amount %q", idx+2, raw),
			}
		}

		transactions = append(transactions, models.Transaction{
			CustomerID:  normalizeID(cell(row, columns["customer_id"])),
			ProductCode: normalizeID(cell(row, columns["product_code"])),
			Amount:      amount,
		})
	}

	return transactions, nil
}

func readProducts(rows [][]string) ([]models.Product, error) {
	columns, err := locate(SheetProducts, rows[0], "product_code", "category")
	if err != nil {
		return nil, err
	}

	var products []models.Product
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}

		products = append(products, models.Product{
			ProductCode: normalizeID(cell(row, columns["product_code"])),
			Category:    cell(row, columns["category"]),
		})
	}

	return products, nil
}

// locate maps each wanted column name to its index in header.
func locate(sheet string, header []string, names ...string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, title := range header {
		key := strings.ToLower(strings.TrimSpace(title))
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}

	columns := make(map[string]int, len(names))
	for _, name := range names {
		i, ok := index[name]
		if !ok {
			return nil, &ValidationError{Sheet: sheet, Reason: fmt.Sprintf("missing column %q", name)}
		}
		columns[name] = i
	}

	return columns, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// normalizeID turns integral numeric cells such as "1.0" into "1".
func normalizeID(value string) string {
	if !strings.Contains(value, ".") {
		return value
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return value
	}

	return strconv.FormatFloat(f, 'f', 0, 64)
}
