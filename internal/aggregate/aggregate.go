package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/UnknownOlympus/hermes/internal/models"
	"github.com/shopspring/decimal"
)

// ErrEmptyReport is returned when any of the three reports has no rows.
var ErrEmptyReport = errors.New("report is empty")

// JoinedTransaction is a transaction annotated with its product category.
type JoinedTransaction struct {
	models.Transaction
	Category    string
	HasCategory bool
}

// CategoryTotal is the amount a customer spent in one category.
type CategoryTotal struct {
	CustomerID string
	Category   string
	Amount     decimal.Decimal
}

// TopCustomer is the biggest spender of a category.
type TopCustomer struct {
	Category   string
	CustomerID string
	Amount     decimal.Decimal
}

// CustomerRank is a customer's total spend and dense rank.
type CustomerRank struct {
	CustomerID string
	Amount     decimal.Decimal
	Rank       int
}

// Reports bundles the three report tables of an ingestion.
type Reports struct {
	CategoryTotals []CategoryTotal
	TopCustomers   []TopCustomer
	CustomerRanks  []CustomerRank
}

// Join left-joins transactions to products on product code. When a code appears more
// than once in products, the first occurrence wins.
func Join(transactions []models.Transaction, products []models.Product) []JoinedTransaction {
	categories := make(map[string]string, len(products))
	for _, product := range products {
		if _, ok := categories[product.ProductCode]; !ok {
			categories[product.ProductCode] = product.Category
		}
	}

	joined := make([]JoinedTransaction, 0, len(transactions))
	for _, txn := range transactions {
		category, ok := categories[txn.ProductCode]
		joined = append(joined, JoinedTransaction{Transaction: txn, Category: category, HasCategory: ok})
	}

	return joined
}

// CategoryTotals sums amounts per (customer, category). Transactions without a category
// are left out. Rows are ordered by customer id, then category.
func CategoryTotals(joined []JoinedTransaction) []CategoryTotal {
	type key struct{ customer, category string }

	sums := make(map[key]decimal.Decimal)
	for _, txn := range joined {
		if !txn.HasCategory {
			continue
		}
		k := key{txn.CustomerID, txn.Category}
		sums[k] = sums[k].Add(txn.Amount)
	}

	totals := make([]CategoryTotal, 0, len(sums))
	for k, amount := range sums {
		totals = append(totals, CategoryTotal{CustomerID: k.customer, Category: k.category, Amount: amount})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].CustomerID != totals[j].CustomerID {
			return LessID(totals[i].CustomerID, totals[j].CustomerID)
		}
		return totals[i].Category < totals[j].Category
	})

	return totals
}

// TopCustomers picks the highest total per category. Ties go to the lowest customer id.
// Rows are ordered by category.
func TopCustomers(totals []CategoryTotal) []TopCustomer {
	best := make(map[string]CategoryTotal)
	for _, total := range totals {
		current, ok := best[total.Category]
		if !ok || beats(total, current) {
			best[total.Category] = total
		}
	}

	top := make([]TopCustomer, 0, len(best))
	for category, total := range best {
		top = append(top, TopCustomer{Category: category, CustomerID: total.CustomerID, Amount: total.Amount})
	}
	sort.Slice(top, func(i, j int) bool { return top[i].Category < top[j].Category })

	return top
}

func beats(candidate, current CategoryTotal) bool {
	if cmp := candidate.Amount.Cmp(current.Amount); cmp != 0 {
		return cmp > 0
	}

	return LessID(candidate.CustomerID, current.CustomerID)
}

// Rank sums every transaction per customer, whether or not its product is known, and
// assigns dense ranks by descending total. Equal totals share a rank and are listed by
// customer id.
func Rank(joined []JoinedTransaction) []CustomerRank {
	sums := make(map[string]decimal.Decimal)
	for _, txn := range joined {
		sums[txn.CustomerID] = sums[txn.CustomerID].Add(txn.Amount)
	}

	ranks := make([]CustomerRank, 0, len(sums))
	for customerID, amount := range sums {
		ranks = append(ranks, CustomerRank{CustomerID: customerID, Amount: amount})
	}
	sort.Slice(ranks, func(i, j int) bool {
		if cmp := ranks[i].Amount.Cmp(ranks[j].Amount); cmp != 0 {
			return cmp > 0
		}
		return LessID(ranks[i].CustomerID, ranks[j].CustomerID)
	})

	DenseRank(ranks)

	return ranks
}

// DenseRank assigns ranks to rows already sorted by descending amount.
func DenseRank(ranks []CustomerRank) {
	rank := 0
	for i := range ranks {
		if i == 0 || !ranks[i].Amount.Equal(ranks[i-1].Amount) {
			rank++
		}
		ranks[i].Rank = rank
	}
}

// Build computes all three reports. Every report must have at least one row.
func Build(transactions []models.Transaction, products []models.Product) (*Reports, error) {
	joined := Join(transactions, products)
	totals := CategoryTotals(joined)

	reports := &Reports{
		CategoryTotals: totals,
		TopCustomers:   TopCustomers(totals),
		CustomerRanks:  Rank(joined),
	}

	switch {
	case len(reports.CategoryTotals) == 0:
		return nil, fmt.Errorf("%w: category totals", ErrEmptyReport)
	case len(reports.TopCustomers) == 0:
		return nil, fmt.Errorf("%w: top customers", ErrEmptyReport)
	case len(reports.CustomerRanks) == 0:
		return nil, fmt.Errorf("%w: customer rank", ErrEmptyReport)
	}

	return reports, nil
}

// LessID orders customer ids numerically when both are integers, lexically otherwise.
// Numeric ids sort before non-numeric ones.
func LessID(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)

	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
