package observability

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics aggregates the collectors shared by the settlement core.
type SettlementMetrics struct {
	settlements    *prometheus.CounterVec
	volume         *prometheus.CounterVec
	fees           prometheus.Counter
	sponsorship    *prometheus.CounterVec
	sponsoredCost  prometheus.Counter
	poolBalance    prometheus.Gauge
	faucetClaims   *prometheus.CounterVec
	vendorStatus   *prometheus.CounterVec
	handles        *prometheus.CounterVec
	rateVersion    prometheus.Gauge
	journalLatency *prometheus.HistogramVec
	journalErrors  *prometheus.CounterVec
}

type httpMetrics struct {
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	settlementMetricsOnce sync.Once
	settlementRegistry    *SettlementMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// Settlement returns the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tappay",
				Subsystem: "settlement",
				Name:      "settlements_total",
				Help:      "Settlement attempts segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tappay",
				Subsystem: "settlement",
				Name:      "volume_total",
				Help:      "Gross settled volume in base units segmented by kind.",
			}, []string{"kind"}),
			fees: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tappay",
				Subsystem: "settlement",
				Name:      "fees_total",
				Help:      "Platform fees collected in base units.",
			}),
			sponsorship: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tappay",
				Subsystem: "sponsorship",
				Name:      "decisions_total",
				Help:      "Sponsorship decisions segmented by outcome and reason.",
			}, []string{"outcome", "reason"}),
			sponsoredCost: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tappay",
				Subsystem: "sponsorship",
				Name:      "sponsored_cost_total",
				Help:      "Execution cost charged to the sponsorship pool.",
			}),
			poolBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tappay",
				Subsystem: "sponsorship",
				Name:      "pool_balance",
				Help:      "Remaining sponsorship pool balance.",
			}),
			faucetClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tappay",
				Subsystem: "faucet",
				Name:      "claims_total",
				Help:      "Faucet claims segmented by outcome.",
			}, []string{"outcome"}),
			vendorStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tappay",
				Subsystem: "vendor",
				Name:      "status_transitions_total",
				Help:      "Vendor status transitions segmented by target status.",
			}, []string{"status"}),
			handles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tappay",
				Subsystem: "names",
				Name:      "registrations_total",
				Help:      "Handle registrations segmented by class.",
			}, []string{"class"}),
			rateVersion: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tappay",
				Subsystem: "rates",
				Name:      "version",
				Help:      "Version of the exchange rate currently in effect.",
			}),
			journalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tappay",
				Subsystem: "journal",
				Name:      "append_duration_seconds",
				Help:      "Latency of journal appends segmented by entry type.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
			journalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tappay",
				Subsystem: "journal",
				Name:      "append_errors_total",
				Help:      "Failed journal appends segmented by entry type and failure class.",
			}, []string{"type", "class"}),
		}
		prometheus.MustRegister(
			settlementRegistry.settlements,
			settlementRegistry.volume,
			settlementRegistry.fees,
			settlementRegistry.sponsorship,
			settlementRegistry.sponsoredCost,
			settlementRegistry.poolBalance,
			settlementRegistry.faucetClaims,
			settlementRegistry.vendorStatus,
			settlementRegistry.handles,
			settlementRegistry.rateVersion,
			settlementRegistry.journalLatency,
			settlementRegistry.journalErrors,
		)
	})
	return settlementRegistry
}

// RecordSettlement tracks a settlement attempt. Amounts are only added for
// successful settlements.
func (m *SettlementMetrics) RecordSettlement(kind, outcome string, gross, fee *big.Int) {
	if m == nil {
		return
	}
	kind = normalizeLabel(kind, "unknown")
	m.settlements.WithLabelValues(kind, normalizeLabel(outcome, "unknown")).Inc()
	if outcome != "success" {
		return
	}
	if gross != nil && gross.Sign() > 0 {
		m.volume.WithLabelValues(kind).Add(toFloat(gross))
	}
	if fee != nil && fee.Sign() > 0 {
		m.fees.Add(toFloat(fee))
	}
}

// RecordSponsorship tracks a sponsorship decision and the resulting pool level.
func (m *SettlementMetrics) RecordSponsorship(admitted bool, reason string, cost, pool uint64) {
	if m == nil {
		return
	}
	outcome := "denied"
	if admitted {
		outcome = "admitted"
		m.sponsoredCost.Add(float64(cost))
	}
	m.sponsorship.WithLabelValues(outcome, normalizeLabel(reason, "none")).Inc()
	m.poolBalance.Set(float64(pool))
}

// SetPoolBalance updates the pool gauge after funding.
func (m *SettlementMetrics) SetPoolBalance(pool uint64) {
	if m == nil {
		return
	}
	m.poolBalance.Set(float64(pool))
}

// RecordFaucetClaim tracks a faucet claim outcome.
func (m *SettlementMetrics) RecordFaucetClaim(granted bool) {
	if m == nil {
		return
	}
	outcome := "cooldown"
	if granted {
		outcome = "granted"
	}
	m.faucetClaims.WithLabelValues(outcome).Inc()
}

// RecordVendorStatus counts a transition into status.
func (m *SettlementMetrics) RecordVendorStatus(status string) {
	if m == nil {
		return
	}
	m.vendorStatus.WithLabelValues(normalizeLabel(status, "unknown")).Inc()
}

// RecordHandle counts a handle registration.
func (m *SettlementMetrics) RecordHandle(class string) {
	if m == nil {
		return
	}
	m.handles.WithLabelValues(normalizeLabel(class, "unknown")).Inc()
}

// SetRateVersion publishes the active exchange rate version.
func (m *SettlementMetrics) SetRateVersion(version uint64) {
	if m == nil {
		return
	}
	m.rateVersion.Set(float64(version))
}

// ObserveJournal records the latency of a journal append. A non-empty class
// marks the append as failed.
func (m *SettlementMetrics) ObserveJournal(entryType string, elapsed time.Duration, class string) {
	if m == nil {
		return
	}
	entryType = normalizeLabel(entryType, "unknown")
	m.journalLatency.WithLabelValues(entryType).Observe(elapsed.Seconds())
	if class != "" {
		m.journalErrors.WithLabelValues(entryType, class).Inc()
	}
}

// HTTP returns the request metrics used by the settlementd middleware.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tappay",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route, method and status.",
			}, []string{"route", "method", "status"}),
			durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tappay",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tappay",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.durations, httpRegistry.throttles)
	})
	return httpRegistry
}

// Observe records a completed HTTP request.
func (m *httpMetrics) Observe(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	route = normalizeLabel(route, "unknown")
	m.requests.WithLabelValues(route, method, statusLabel(status)).Inc()
	m.durations.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Throttled counts a request rejected by the limiter.
func (m *httpMetrics) Throttled(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(route, "unknown")).Inc()
}

func normalizeLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func toFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
