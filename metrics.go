package immortal

import (
	"sync/atomic"
	"time"
)

// Metrics tracks performance and operational statistics for a runtime
// instance. All fields are atomics; the dispatch loop and the progress
// thread both write through the Observer methods.
type Metrics struct {
	// Inbound counters
	LogRecords  atomic.Uint64 // Log records processed
	BytesIn     atomic.Uint64 // Payload bytes received
	RPCsIn      atomic.Uint64 // RPC upcalls dispatched
	ArgBytesIn  atomic.Uint64 // Argument bytes delivered to upcalls
	Batches     atomic.Uint64 // RPCBatch envelopes expanded
	BatchedRPCs atomic.Uint64 // RPCs delivered inside batches

	// Outbound counters
	RPCsOut         atomic.Uint64 // RPC envelopes released to the ring
	BytesOut        atomic.Uint64 // Envelope bytes released to the ring
	Checkpoints     atomic.Uint64 // Checkpoint envelopes emitted
	CheckpointBytes atomic.Uint64 // Checkpoint payload bytes emitted
	Attaches        atomic.Uint64 // AttachTo envelopes emitted

	// Progress thread
	Sends     atomic.Uint64 // send calls issued (one per peeked slice)
	SentBytes atomic.Uint64 // bytes shipped to the coordinator

	// Lifecycle
	StartTime atomic.Int64 // Initialize timestamp (UnixNano)
	StopTime  atomic.Int64 // Close timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Observer hooks, called from the engine hot paths.

func (m *Metrics) ObserveRecord(payloadBytes int) {
	m.LogRecords.Add(1)
	m.BytesIn.Add(uint64(payloadBytes))
}

func (m *Metrics) ObserveRPCIn(argBytes int) {
	m.RPCsIn.Add(1)
	m.ArgBytesIn.Add(uint64(argBytes))
}

func (m *Metrics) ObserveBatch(count int32) {
	m.Batches.Add(1)
	if count > 0 {
		m.BatchedRPCs.Add(uint64(count))
	}
}

func (m *Metrics) ObserveRPCOut(bytes int) {
	m.RPCsOut.Add(1)
	m.BytesOut.Add(uint64(bytes))
}

func (m *Metrics) ObserveCheckpoint(bytes int) {
	m.Checkpoints.Add(1)
	m.CheckpointBytes.Add(uint64(bytes))
}

func (m *Metrics) ObserveAttach() {
	m.Attaches.Add(1)
}

func (m *Metrics) ObserveSend(bytes int) {
	m.Sends.Add(1)
	m.SentBytes.Add(uint64(bytes))
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	LogRecords  uint64
	BytesIn     uint64
	RPCsIn      uint64
	ArgBytesIn  uint64
	Batches     uint64
	BatchedRPCs uint64

	RPCsOut         uint64
	BytesOut        uint64
	Checkpoints     uint64
	CheckpointBytes uint64
	Attaches        uint64

	Sends     uint64
	SentBytes uint64

	Uptime time.Duration
}

// Snapshot returns a consistent-enough copy for reporting. Individual
// counters are atomic; the set is not taken under a global lock.
func (m *Metrics) Snapshot() MetricsSnapshot {
	stop := m.StopTime.Load()
	if stop == 0 {
		stop = time.Now().UnixNano()
	}
	return MetricsSnapshot{
		LogRecords:  m.LogRecords.Load(),
		BytesIn:     m.BytesIn.Load(),
		RPCsIn:      m.RPCsIn.Load(),
		ArgBytesIn:  m.ArgBytesIn.Load(),
		Batches:     m.Batches.Load(),
		BatchedRPCs: m.BatchedRPCs.Load(),

		RPCsOut:         m.RPCsOut.Load(),
		BytesOut:        m.BytesOut.Load(),
		Checkpoints:     m.Checkpoints.Load(),
		CheckpointBytes: m.CheckpointBytes.Load(),
		Attaches:        m.Attaches.Load(),

		Sends:     m.Sends.Load(),
		SentBytes: m.SentBytes.Load(),

		Uptime: time.Duration(stop - m.StartTime.Load()),
	}
}
