package domain

import "github.com/shopspring/decimal"

// OrderStatus is owned by the fulfillment backend; the storefront only displays it.
type OrderStatus string

type OrderItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type Order struct {
	ID     int64           `json:"id"`
	Items  []OrderItem     `json:"items"`
	Total  decimal.Decimal `json:"total"`
	Status OrderStatus     `json:"status"`
}
