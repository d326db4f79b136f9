package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

type CartEntry struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Product   ProductSnapshot `json:"product"`
}

func (e CartEntry) Subtotal() decimal.Decimal {
	return e.Product.Price.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

// Cart is an immutable set of entries, unique by product id.
// Every "change" returns a new Cart; the receiver is left untouched.
type Cart struct {
	entries []CartEntry // sorted by ProductID
}

// NewCart builds a cart from entries. Entries with quantity < 1 are dropped,
// and a later entry for the same product replaces an earlier one.
func NewCart(entries ...CartEntry) Cart {
	byID := make(map[int64]CartEntry, len(entries))
	for _, e := range entries {
		if e.Quantity < 1 {
			delete(byID, e.ProductID)
			continue
		}
		byID[e.ProductID] = e
	}

	out := make([]CartEntry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return Cart{entries: out}
}

// Entries returns a copy of the cart's entries ordered by product id.
func (c Cart) Entries() []CartEntry {
	out := make([]CartEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c Cart) Entry(productID int64) (CartEntry, bool) {
	i := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].ProductID >= productID })
	if i < len(c.entries) && c.entries[i].ProductID == productID {
		return c.entries[i], true
	}
	return CartEntry{}, false
}

// Quantity returns the quantity held for productID, 0 when absent.
func (c Cart) Quantity(productID int64) int {
	e, ok := c.Entry(productID)
	if !ok {
		return 0
	}
	return e.Quantity
}

func (c Cart) Len() int {
	return len(c.entries)
}

func (c Cart) IsEmpty() bool {
	return len(c.entries) == 0
}

func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range c.entries {
		total = total.Add(e.Subtotal())
	}
	return total
}

// With returns a copy of the cart where the entry for e.ProductID is replaced by e.
// A quantity below 1 removes the entry.
func (c Cart) With(e CartEntry) Cart {
	entries := c.Entries()
	for i := range entries {
		if entries[i].ProductID == e.ProductID {
			entries[i] = e
			return NewCart(entries...)
		}
	}
	return NewCart(append(entries, e)...)
}

func (c Cart) Without(productID int64) Cart {
	entries := make([]CartEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.ProductID != productID {
			entries = append(entries, e)
		}
	}
	return Cart{entries: entries}
}
