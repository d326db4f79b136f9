package domain

import "github.com/shopspring/decimal"

// ProductSnapshot is a point-in-time copy of a catalog product. The cart copies it, never mutates it.
type ProductSnapshot struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	ImageURL string          `json:"image_url,omitempty"`
}

// InStock reports whether quantity units fit under the snapshot's stock ceiling.
func (p ProductSnapshot) InStock(quantity int) bool {
	return quantity <= p.Stock
}

// Known reports whether the snapshot carries catalog data. The cart service may return a line
// without its product, which leaves only the id.
func (p ProductSnapshot) Known() bool {
	return p.Name != ""
}
