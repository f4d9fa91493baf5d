package models

import "github.com/shopspring/decimal"

// Transaction is a single purchase row from the Transactions sheet.
type Transaction struct {
	CustomerID  string
	ProductCode string
	Amount      decimal.Decimal
}

// Product is a catalog row from the Products sheet.
type Product struct {
	ProductCode string
	Category    string
}
