// Package engine contains the two loops at the heart of the runtime: the
// dispatch loop, which reads log records from the down stream and makes
// application upcalls, and the progress thread, which drains the outbound
// ring to the up stream. Exactly these two goroutines touch runtime state;
// the ring between them is SPSC by construction.
package engine

import (
	"encoding/hex"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/ehrlich-b/go-immortal/internal/constants"
	"github.com/ehrlich-b/go-immortal/internal/interfaces"
	"github.com/ehrlich-b/go-immortal/internal/netio"
	"github.com/ehrlich-b/go-immortal/internal/ring"
	"github.com/ehrlich-b/go-immortal/internal/wire"
)

// ErrOversizedRecord is returned when a log header announces a payload
// beyond the configured maximum.
var ErrOversizedRecord = fmt.Errorf("engine: record payload exceeds %d bytes", constants.MaxRecordPayload)

// Config wires a dispatch loop to its collaborators.
type Config struct {
	Down net.Conn
	Ring *ring.Buffer

	Handler    interfaces.Handler
	Checkpoint func() []byte

	Logger   interfaces.Logger
	Observer interfaces.Observer

	// Shutdown is polled between log records; the loop finishes the
	// record in flight and returns.
	Shutdown *atomic.Bool
}

// Loop is the dispatch loop (runs on the application thread via Runtime.Run).
type Loop struct {
	cfg Config
	seq int64 // last seq id, for diagnostics
}

// NewLoop creates a dispatch loop.
func NewLoop(cfg Config) *Loop {
	return &Loop{cfg: cfg}
}

// Run processes log records until the shutdown flag is set. Records are
// processed strictly in arrival order and envelopes strictly in record
// order. Every error is fatal; Run emits a structured diagnostic and
// returns it.
func (l *Loop) Run() error {
	for !l.cfg.Shutdown.Load() {
		if err := l.processRecord(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) processRecord() error {
	hdr, err := wire.ReadLogHeader(l.cfg.Down)
	if err != nil {
		l.diagnose(err, nil, 0, 0)
		return fmt.Errorf("read header after seq %d: %w", l.seq, err)
	}
	l.seq = hdr.SeqID

	size := hdr.PayloadSize()
	if size < 0 || size > constants.MaxRecordPayload {
		l.diagnose(ErrOversizedRecord, nil, 0, 0)
		return fmt.Errorf("record seq %d total_size %d: %w", hdr.SeqID, hdr.TotalSize, ErrOversizedRecord)
	}
	payload := GetBuffer(size)
	defer PutBuffer(payload)
	if err := netio.RecvExact(l.cfg.Down, payload); err != nil {
		l.diagnose(err, nil, 0, 0)
		return fmt.Errorf("read %d-byte payload of seq %d: %w", size, hdr.SeqID, err)
	}

	if l.cfg.Observer != nil {
		l.cfg.Observer.ObserveRecord(size)
	}
	if l.cfg.Logger != nil {
		if sum := wire.Checksum(payload); sum != hdr.Checksum {
			l.cfg.Logger.Debugf("seq %d: header checksum %d, computed %d (not enforced)",
				hdr.SeqID, hdr.Checksum, sum)
		}
	}

	sc := wire.NewScanner(payload)
	for sc.Scan() {
		if err := l.dispatch(sc.Type(), sc.Body()); err != nil {
			l.diagnose(err, payload, sc.Offset(), byte(sc.Type()))
			return fmt.Errorf("seq %d envelope at offset %d: %w", hdr.SeqID, sc.Offset(), err)
		}
	}
	if err := sc.Err(); err != nil {
		l.diagnose(err, payload, sc.Offset(), 0)
		return fmt.Errorf("seq %d payload at offset %d: %w", hdr.SeqID, sc.Offset(), err)
	}
	return nil
}

// dispatch handles one top-level envelope.
func (l *Loop) dispatch(tag wire.MsgType, body []byte) error {
	switch tag {
	case wire.MsgRPC:
		return l.upcall(body)

	case wire.MsgRPCBatch:
		count, rest, err := wire.ReadBatchCount(body)
		if err != nil {
			return err
		}
		if l.cfg.Observer != nil {
			l.cfg.Observer.ObserveBatch(count)
		}
		inner := wire.NewScanner(rest)
		seen := int32(0)
		for seen < count && inner.Scan() {
			seen++
			if inner.Type() == wire.MsgRPC {
				if err := l.upcall(inner.Body()); err != nil {
					return err
				}
			} else if l.cfg.Logger != nil {
				// Batches carry RPCs in practice; tolerate
				// other known tags rather than tearing down.
				l.cfg.Logger.Debugf("skipping %v inside RPCBatch", inner.Type())
			}
		}
		if err := inner.Err(); err != nil {
			return err
		}
		if seen != count {
			return fmt.Errorf("batch declared %d messages, found %d: %w",
				count, seen, wire.ErrUnexpectedEOF)
		}
		return nil

	case wire.MsgTakeCheckpoint:
		return l.emitCheckpoint()

	case wire.MsgInitialMessage:
		// The Coordinator echoes the startup message back so clients
		// can synchronize round-trip readiness; nothing to dispatch.
		if l.cfg.Logger != nil {
			l.cfg.Logger.Debugf("initial message echoed by coordinator")
		}
		return nil

	default:
		// Remaining known tags (AttachTo, Checkpoint, Upgrade*) are
		// not expected mid-stream; skip them for forward
		// compatibility. Unknown tags never reach here -- the
		// scanner rejects them.
		if l.cfg.Logger != nil {
			l.cfg.Logger.Printf("ignoring unexpected %v message (%d bytes)", tag, len(body))
		}
		return nil
	}
}

func (l *Loop) upcall(body []byte) error {
	rpc, err := wire.ParseInboundRPC(body)
	if err != nil {
		return err
	}
	if l.cfg.Observer != nil {
		l.cfg.Observer.ObserveRPCIn(len(rpc.Args))
	}
	l.cfg.Handler.HandleRPC(rpc.MethodID, rpc.Args)
	return nil
}

// emitCheckpoint answers a TakeCheckpoint prompt. The envelope goes through
// the ring as a single reserve/release pair so it lands in the outbound
// stream after everything already released and before anything a later
// upcall releases; writing the socket directly here would interleave with
// the progress thread.
func (l *Loop) emitCheckpoint() error {
	payload := l.cfg.Checkpoint()
	size := wire.CheckpointSize(len(payload))
	region, err := l.cfg.Ring.Reserve(size)
	if err != nil {
		return fmt.Errorf("checkpoint of %d bytes: %w", size, err)
	}
	wire.PutCheckpoint(region, payload)
	l.cfg.Ring.Release(size)
	if l.cfg.Observer != nil {
		l.cfg.Observer.ObserveCheckpoint(len(payload))
	}
	return nil
}

// diagnose writes the structured fatal diagnostic: offending tag, offsets,
// and a bounded hex dump of the trailing payload bytes.
func (l *Loop) diagnose(err error, payload []byte, offset int, tag byte) {
	if l.cfg.Logger == nil {
		return
	}
	tail := payload
	if len(tail) > 100 {
		tail = tail[len(tail)-100:]
	}
	l.cfg.Logger.Printf("fatal record error: %v (seq=%d tag=%d offset=%d/%d) trailing bytes: %s",
		err, l.seq, tag, offset, len(payload), hex.EncodeToString(tail))
}
