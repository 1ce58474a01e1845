package constants

import "time"

// Default configuration constants
const (
	// DefaultBufferBytes is the default outbound ring capacity (20 MiB),
	// matching the soft limit the Coordinator expects clients to batch
	// under.
	DefaultBufferBytes = 20 * 1024 * 1024

	// MinBufferSlack is the envelope overhead added on top of the largest
	// expected record when sizing a ring from a caller-provided maximum:
	// worst-case varint size prefix, tag, destination prefix, and the RPC
	// header bytes.
	MinBufferSlack = 64

	// MaxRecordPayload bounds the payload of the log records the dispatch
	// loop reads. A header announcing more than this fails with an
	// oversized-record error rather than attempting the allocation. The
	// startup handshake's record is not checked against this bound.
	MaxRecordPayload = 1 << 30
)

// Progress-thread tuning
const (
	// SpinBudget is how many empty peeks the progress thread performs
	// before yielding the processor. The loop favors spinning because a
	// dispatch upcall usually releases more bytes within microseconds.
	SpinBudget = 100
)

// Socket timing
const (
	// DialRetryWindow bounds how long initialization retries the up-port
	// connect while the Coordinator finishes starting. Connection refusal
	// inside the window is expected during co-start; after it, fatal.
	DialRetryWindow = 10 * time.Second

	// DialRetryInterval is the pause between connect attempts.
	DialRetryInterval = 100 * time.Millisecond
)
