/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Exposes operational counters for the ledger: spends per credit source,
  rejected spends, the current period id, and the pause state. A small
  background refresher keeps the time-derived gauges current even when no
  requests arrive.

SEE ALSO:
  - server.go: mounts the /metrics endpoint
  - handlers.go: increments spend counters
*/
package api

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/warp/energy-ledger/energy"
)

// Metrics holds the ledger's Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	SpendsTotal      *prometheus.CounterVec // spends applied, by source
	SpendAmountTotal *prometheus.CounterVec // energy spent, by source
	SpendsRejected   prometheus.Counter
	CurrentPeriodID  prometheus.Gauge
	Paused           prometheus.Gauge
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		SpendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy",
			Name:      "spends_total",
			Help:      "Number of applied energy spends by credit source.",
		}, []string{"source"}),
		SpendAmountTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy",
			Name:      "spend_amount_total",
			Help:      "Total energy spent by credit source.",
		}, []string{"source"}),
		SpendsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "energy",
			Name:      "spends_rejected_total",
			Help:      "Number of spend requests rejected before any mutation.",
		}),
		CurrentPeriodID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "energy",
			Name:      "current_period_id",
			Help:      "Id of the period containing the current time (0 = none).",
		}),
		Paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "energy",
			Name:      "paused",
			Help:      "1 while the ledger is paused.",
		}),
	}
	reg.MustRegister(m.SpendsTotal, m.SpendAmountTotal, m.SpendsRejected, m.CurrentPeriodID, m.Paused)
	return m
}

// ObserveSpend records one applied spend split.
func (m *Metrics) ObserveSpend(source energy.Source, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	f, _ := amount.Float64()
	m.SpendsTotal.WithLabelValues(string(source)).Inc()
	m.SpendAmountTotal.WithLabelValues(string(source)).Add(f)
}

// =============================================================================
// REFRESHER - keeps time-derived gauges current
// =============================================================================

// MetricsRefresher periodically recomputes the current period id and pause
// gauges from the engine.
type MetricsRefresher struct {
	Engine   *energy.Engine
	Metrics  *Metrics
	Clock    energy.Clock
	Interval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewMetricsRefresher(engine *energy.Engine, metrics *Metrics, clock energy.Clock) *MetricsRefresher {
	return &MetricsRefresher{
		Engine:   engine,
		Metrics:  metrics,
		Clock:    clock,
		Interval: 30 * time.Second,
		stop:     make(chan struct{}),
	}
}

// Start begins the background refresh loop.
func (mr *MetricsRefresher) Start() {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	mr.ticker = time.NewTicker(mr.Interval)
	mr.wg.Add(1)
	go mr.run()
	log.Printf("[Metrics] refresher started, interval %v", mr.Interval)
}

// Stop halts the loop and waits for it to finish.
func (mr *MetricsRefresher) Stop() {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if mr.ticker != nil {
		mr.ticker.Stop()
		close(mr.stop)
		mr.wg.Wait()
		log.Println("[Metrics] refresher stopped")
	}
}

func (mr *MetricsRefresher) run() {
	defer mr.wg.Done()

	mr.Refresh()
	for {
		select {
		case <-mr.ticker.C:
			mr.Refresh()
		case <-mr.stop:
			return
		}
	}
}

// Refresh recomputes the gauges once.
func (mr *MetricsRefresher) Refresh() {
	id := mr.Engine.Registry().CurrentPeriodID(mr.Clock.Now())
	mr.Metrics.CurrentPeriodID.Set(float64(id))

	if mr.Engine.Lifecycle().IsPaused() {
		mr.Metrics.Paused.Set(1)
	} else {
		mr.Metrics.Paused.Set(0)
	}
}
