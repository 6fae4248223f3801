package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSettlementMetricsRecordOutcomes(t *testing.T) {
	m := Settlement()
	before := testutil.ToFloat64(m.settlements.WithLabelValues("vendor", "success"))
	m.RecordSettlement("vendor", "success", big.NewInt(1000), big.NewInt(25))
	require.Equal(t, before+1, testutil.ToFloat64(m.settlements.WithLabelValues("vendor", "success")))

	m.RecordSponsorship(true, "", 40, 960)
	require.Equal(t, float64(960), testutil.ToFloat64(m.poolBalance))

	m.ObserveJournal("settlement.completed", 3*time.Millisecond, "timeout")
	require.GreaterOrEqual(t, testutil.ToFloat64(m.journalErrors.WithLabelValues("settlement.completed", "timeout")), float64(1))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *SettlementMetrics
	m.RecordSettlement("p2p", "success", big.NewInt(1), nil)
	m.RecordFaucetClaim(true)
	var h *httpMetrics
	h.Observe("/", "GET", 200, time.Millisecond)
}

func TestStatusLabel(t *testing.T) {
	require.Equal(t, "2xx", statusLabel(201))
	require.Equal(t, "4xx", statusLabel(409))
	require.Equal(t, "5xx", statusLabel(503))
}
