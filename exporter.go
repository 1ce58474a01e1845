package immortal

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a runtime's Metrics as prometheus metrics. The library
// never registers or serves anything itself; applications register the
// collector with their own registry:
//
//	prometheus.MustRegister(immortal.NewCollector("immortal", rt.Metrics()))
type Collector struct {
	metrics *Metrics
	descs   map[string]*prometheus.Desc
}

// NewCollector creates a collector with the given metric name prefix.
func NewCollector(prefix string, m *Metrics) *Collector {
	return &Collector{
		metrics: m,
		descs:   makeDescriptions(prefix),
	}
}

func makeDescriptions(prefix string) map[string]*prometheus.Desc {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(fmt.Sprintf("%s_%s", prefix, name), help, nil, nil)
	}
	return map[string]*prometheus.Desc{
		"log_records_total":      desc("log_records_total", "Log records processed from the coordinator."),
		"inbound_bytes_total":    desc("inbound_bytes_total", "Payload bytes received from the coordinator."),
		"rpcs_in_total":          desc("rpcs_in_total", "RPC upcalls dispatched to the application."),
		"rpc_arg_bytes_total":    desc("rpc_arg_bytes_total", "Argument bytes delivered to upcalls."),
		"batches_total":          desc("batches_total", "RPCBatch envelopes expanded."),
		"batched_rpcs_total":     desc("batched_rpcs_total", "RPCs delivered inside batches."),
		"rpcs_out_total":         desc("rpcs_out_total", "RPC envelopes released to the outbound ring."),
		"outbound_bytes_total":   desc("outbound_bytes_total", "Envelope bytes released to the outbound ring."),
		"checkpoints_total":      desc("checkpoints_total", "Checkpoint envelopes emitted."),
		"checkpoint_bytes_total": desc("checkpoint_bytes_total", "Checkpoint payload bytes emitted."),
		"attaches_total":         desc("attaches_total", "AttachTo envelopes emitted."),
		"sends_total":            desc("sends_total", "Send calls issued by the progress thread."),
		"sent_bytes_total":       desc("sent_bytes_total", "Bytes shipped to the coordinator."),
		"uptime_seconds":         desc("uptime_seconds", "Seconds since the runtime initialized."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		descs <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	counter := func(name string, v uint64) {
		metrics <- prometheus.MustNewConstMetric(c.descs[name], prometheus.CounterValue, float64(v))
	}
	counter("log_records_total", s.LogRecords)
	counter("inbound_bytes_total", s.BytesIn)
	counter("rpcs_in_total", s.RPCsIn)
	counter("rpc_arg_bytes_total", s.ArgBytesIn)
	counter("batches_total", s.Batches)
	counter("batched_rpcs_total", s.BatchedRPCs)
	counter("rpcs_out_total", s.RPCsOut)
	counter("outbound_bytes_total", s.BytesOut)
	counter("checkpoints_total", s.Checkpoints)
	counter("checkpoint_bytes_total", s.CheckpointBytes)
	counter("attaches_total", s.Attaches)
	counter("sends_total", s.Sends)
	counter("sent_bytes_total", s.SentBytes)
	metrics <- prometheus.MustNewConstMetric(c.descs["uptime_seconds"],
		prometheus.GaugeValue, s.Uptime.Seconds())
}
