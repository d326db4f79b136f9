package cart

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// fakeBackend plays the cart authority, the catalog and the cart fetcher at once.
type fakeBackend struct {
	mu          sync.Mutex
	products    map[int64]domain.ProductSnapshot
	lines       map[int64]int
	failNext    map[string]error
	unauth      bool
	calls       map[string]int
	gates       map[string]chan struct{}
	entered     chan string
	invalidated int
}

func newFakeBackend(products ...domain.ProductSnapshot) *fakeBackend {
	f := &fakeBackend{
		products: make(map[int64]domain.ProductSnapshot),
		lines:    make(map[int64]int),
		failNext: make(map[string]error),
		calls:    make(map[string]int),
		gates:    make(map[string]chan struct{}),
		entered:  make(chan string, 16),
	}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func product(id int64, price int64, stock int) domain.ProductSnapshot {
	return domain.ProductSnapshot{ID: id, Name: "product", Price: decimal.NewFromInt(price), Stock: stock}
}

// hold makes the next calls of op wait until the returned func is called.
func (f *fakeBackend) hold(op string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.gates, op)
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeBackend) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	gate := f.gates[op]
	f.mu.Unlock()

	if gate != nil {
		f.entered <- op
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unauth {
		return domain.ErrUnauthenticated
	}
	if err, ok := f.failNext[op]; ok {
		delete(f.failNext, op)
		return err
	}
	return nil
}

func (f *fakeBackend) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) setLine(id int64, qty int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines[id] = qty
}

func (f *fakeBackend) setStock(id int64, stock int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.products[id]
	p.Stock = stock
	f.products[id] = p
	// the authority never holds more than it has
	if f.lines[id] > stock {
		f.lines[id] = stock
	}
	if f.lines[id] == 0 {
		delete(f.lines, id)
	}
}

func (f *fakeBackend) GetCart(ctx context.Context) (domain.Cart, error) {
	if err := f.enter("get"); err != nil {
		return domain.Cart{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]domain.CartEntry, 0, len(f.lines))
	for id, qty := range f.lines {
		entries = append(entries, domain.CartEntry{ProductID: id, Quantity: qty, Product: f.products[id]})
	}
	return domain.NewCart(entries...), nil
}

func (f *fakeBackend) AddItem(ctx context.Context, productID int64, quantity int) error {
	if err := f.enter("add"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return domain.ErrNotFound
	}
	want := f.lines[productID] + quantity
	if want > p.Stock {
		return &domain.StockError{ProductID: productID, Requested: quantity, Available: -1}
	}
	f.lines[productID] = want
	return nil
}

func (f *fakeBackend) UpdateItem(ctx context.Context, productID int64, quantity int) error {
	if err := f.enter("update"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lines[productID]; !ok {
		return domain.ErrNotFound
	}
	if quantity > f.products[productID].Stock {
		return &domain.StockError{ProductID: productID, Requested: quantity, Available: -1}
	}
	f.lines[productID] = quantity
	return nil
}

func (f *fakeBackend) RemoveItem(ctx context.Context, productID int64) error {
	if err := f.enter("remove"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lines[productID]; !ok {
		return domain.ErrNotFound
	}
	delete(f.lines, productID)
	return nil
}

func (f *fakeBackend) ClearCart(ctx context.Context) error {
	if err := f.enter("clear"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = make(map[int64]int)
	return nil
}

func (f *fakeBackend) Product(ctx context.Context, productID int64) (*domain.ProductSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (f *fakeBackend) Invalidate(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}
