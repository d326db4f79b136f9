package cart_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken struct{}

func (staticToken) Token() (string, bool)       { return "tok", true }
func (staticToken) Purge(context.Context) error { return nil }

// shopBackend serves the catalog listing and the cart routes, nothing more.
type shopBackend struct {
	mu        sync.Mutex
	products  []domain.ProductSnapshot
	lines     map[int64]int
	// bareLines leaves the product out of cart lines
	bareLines bool
	adds      atomic.Int32
}

func (b *shopBackend) product(id int64) (domain.ProductSnapshot, bool) {
	for _, p := range b.products {
		if p.ID == id {
			return p, true
		}
	}
	return domain.ProductSnapshot{}, false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (b *shopBackend) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/products/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, b.products)
	})
	r.Get("/cart/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		items := make([]map[string]any, 0, len(b.lines))
		for id, qty := range b.lines {
			item := map[string]any{"id": id, "product_id": id, "quantity": qty, "product": nil}
			if p, ok := b.product(id); ok && !b.bareLines {
				item["product"] = p
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, items)
	})
	r.Post("/cart/add", func(w http.ResponseWriter, r *http.Request) {
		b.adds.Add(1)
		var body struct {
			ProductID int64 `json:"product_id"`
			Quantity  int   `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		p, ok := b.product(body.ProductID)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Product not found"})
			return
		}
		if b.lines[body.ProductID]+body.Quantity > p.Stock {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Cannot add more than available stock"})
			return
		}
		b.lines[body.ProductID] += body.Quantity
		writeJSON(w, http.StatusOK, map[string]any{"product_id": body.ProductID, "quantity": b.lines[body.ProductID]})
	})
	r.Patch("/cart/update/{product_id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
		qty, _ := strconv.Atoi(r.URL.Query().Get("quantity"))
		b.mu.Lock()
		defer b.mu.Unlock()
		p, _ := b.product(id)
		if qty > p.Stock {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Insufficient stock"})
			return
		}
		b.lines[id] = qty
		writeJSON(w, http.StatusOK, map[string]any{"product_id": id, "quantity": qty})
	})
	return r
}

func newShop(t *testing.T, b *shopBackend) (*cart.SyncEngine, *cart.Store) {
	t.Helper()
	srv := httptest.NewServer(b.router())
	t.Cleanup(srv.Close)

	client, err := remote.NewClient(remote.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, staticToken{}, nil)
	require.NoError(t, err)
	products := catalog.NewSnapshotCache(client, cache.NewMemoryCache(time.Minute), nil)
	store := cart.NewStore(client, nil, nil)
	require.NoError(t, store.Load(context.Background()))
	return cart.NewSyncEngine(store, client, products, nil, nil, nil), store
}

func laptop(stock int) domain.ProductSnapshot {
	return domain.ProductSnapshot{ID: 1, Name: "Laptop", Price: decimal.NewFromInt(1000), Stock: stock}
}

func TestAddItem_NewProductResolvedFromListing(t *testing.T) {
	backend := &shopBackend{products: []domain.ProductSnapshot{laptop(5)}, lines: map[int64]int{}}
	engine, store := newShop(t, backend)

	require.NoError(t, engine.AddItem(context.Background(), 1, 1))

	entry, ok := store.Get().Entry(1)
	require.True(t, ok)
	assert.Equal(t, 1, entry.Quantity)
	assert.Equal(t, "Laptop", entry.Product.Name)
}

func TestAddItem_ProductMissingFromListing(t *testing.T) {
	backend := &shopBackend{products: []domain.ProductSnapshot{laptop(5)}, lines: map[int64]int{}}
	engine, store := newShop(t, backend)

	err := engine.AddItem(context.Background(), 99, 1)

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, backend.adds.Load())
	assert.True(t, store.Get().IsEmpty())
}

func TestLineWithoutProductChecksCatalogStock(t *testing.T) {
	backend := &shopBackend{
		products:  []domain.ProductSnapshot{laptop(5)},
		lines:     map[int64]int{1: 1},
		bareLines: true,
	}
	engine, store := newShop(t, backend)

	require.NoError(t, engine.SetItemQuantity(context.Background(), 1, 3))
	assert.Equal(t, 3, store.Get().Quantity(1))

	require.NoError(t, engine.AddItem(context.Background(), 1, 1))
	assert.Equal(t, 4, store.Get().Quantity(1))

	err := engine.AddItem(context.Background(), 1, 2)
	var stockErr *domain.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 5, stockErr.Available)
}
