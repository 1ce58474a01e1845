package immortal

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRegisters(t *testing.T) {
	m := NewMetrics()
	m.ObserveRecord(100)
	m.ObserveRPCIn(3)
	m.ObserveSend(128)

	c := NewCollector("immortal", m)
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if got := testutil.CollectAndCount(c); got != len(c.descs) {
		t.Errorf("CollectAndCount = %d, want %d", got, len(c.descs))
	}

	expected := strings.NewReader(`
# HELP immortal_log_records_total Log records processed from the coordinator.
# TYPE immortal_log_records_total counter
immortal_log_records_total 1
`)
	if err := testutil.CollectAndCompare(c, expected, "immortal_log_records_total"); err != nil {
		t.Errorf("CollectAndCompare: %v", err)
	}
}
