package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess       = "success"
	OutcomeStockExceeded = "stock_exceeded"
	OutcomeUnauth        = "unauthenticated"
	OutcomeUnavailable   = "unavailable"
	OutcomeFailed        = "failed"
	OutcomeDuplicate     = "duplicate"
)

// Metrics holds the storefront collectors. A nil *Metrics records nothing.
type Metrics struct {
	cartMutations      *prometheus.CounterVec
	staleDiscarded     prometheus.Counter
	cartEntries        prometheus.Gauge
	checkoutsInitiated *prometheus.CounterVec
	ordersFinalized    *prometheus.CounterVec
	finalizeNoops      prometheus.Counter
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		cartMutations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_cart_mutations_total",
			Help: "Cart mutations by operation and outcome",
		}, []string{"op", "outcome"}), "storefront_cart_mutations_total"),
		staleDiscarded: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_cart_stale_responses_total",
			Help: "Cart responses discarded because a newer one was already applied",
		}), "storefront_cart_stale_responses_total"),
		cartEntries: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_cart_entries",
			Help: "Number of entries in the cached cart",
		}), "storefront_cart_entries"),
		checkoutsInitiated: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkouts_initiated_total",
			Help: "Checkout session initiations by outcome",
		}, []string{"outcome"}), "storefront_checkouts_initiated_total"),
		ordersFinalized: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_orders_finalized_total",
			Help: "Order finalization attempts by outcome",
		}, []string{"outcome"}), "storefront_orders_finalized_total"),
		finalizeNoops: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_finalize_noops_total",
			Help: "Finalizations that found no pending checkout snapshot",
		}), "storefront_finalize_noops_total"),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C, name string) C {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

func (m *Metrics) RecordCartMutation(op, outcome string) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) RecordStaleDiscarded() {
	if m == nil {
		return
	}
	m.staleDiscarded.Inc()
}

func (m *Metrics) SetCartEntries(n int) {
	if m == nil {
		return
	}
	m.cartEntries.Set(float64(n))
}

func (m *Metrics) RecordCheckoutInitiated(outcome string) {
	if m == nil {
		return
	}
	m.checkoutsInitiated.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordOrderFinalized(outcome string) {
	if m == nil {
		return
	}
	m.ordersFinalized.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordFinalizeNoop() {
	if m == nil {
		return
	}
	m.finalizeNoops.Inc()
}
