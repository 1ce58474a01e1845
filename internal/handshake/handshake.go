// Package handshake implements the one-shot startup protocol with the
// Coordinator, run after both streams are up and before the dispatch loop
// begins. The Coordinator opens with a log record whose first envelope tells
// the client whether it is becoming primary for the first time or recovering
// from a checkpoint; the client answers with its initial application message
// and a first checkpoint, written directly to the up stream (the ring and
// progress thread do not exist yet).
package handshake

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/ehrlich-b/go-immortal/internal/interfaces"
	"github.com/ehrlich-b/go-immortal/internal/netio"
	"github.com/ehrlich-b/go-immortal/internal/wire"
)

var (
	// ErrRecoveryUnimplemented is returned when the Coordinator opens
	// with a Checkpoint record. Reapplying checkpointed state is not
	// built yet; the caller must treat this as fatal.
	ErrRecoveryUnimplemented = errors.New("handshake: checkpoint recovery not implemented")

	// ErrProtocol is returned for any other unexpected first envelope.
	ErrProtocol = errors.New("handshake: unexpected message at startup")
)

// State tracks handshake progress, for diagnostics when a stage fails.
type State int

const (
	StateSocketsUp State = iota
	StateHeaderRead
	StatePayloadRead
	StateDispatched
	StateInitialSent
	StateReady
)

func (s State) String() string {
	switch s {
	case StateSocketsUp:
		return "SocketsUp"
	case StateHeaderRead:
		return "HeaderRead"
	case StatePayloadRead:
		return "PayloadRead"
	case StateDispatched:
		return "Dispatched"
	case StateInitialSent:
		return "InitialSent"
	case StateReady:
		return "Ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config carries the two established streams and the application-supplied
// pieces of the protocol.
type Config struct {
	Up   net.Conn
	Down net.Conn

	// InitialMethodID and InitialArgs form the inbound-form RPC wrapped
	// in the InitialMessage envelope. The Coordinator logs it and echoes
	// it back as the application's first upcall.
	InitialMethodID int32
	InitialArgs     []byte

	// Checkpoint produces the first checkpoint payload.
	Checkpoint func() []byte

	Logger interfaces.Logger
}

// Run drives the startup state machine to Ready. Any stage failure is
// returned with the state it occurred in; all failures are fatal to the
// runtime.
func Run(cfg Config) error {
	state := StateSocketsUp

	hdr, err := wire.ReadLogHeader(cfg.Down)
	if err != nil {
		return fmt.Errorf("handshake at %v: %w", state, err)
	}
	state = StateHeaderRead

	if hdr.PayloadSize() <= 0 {
		return fmt.Errorf("handshake at %v: header total_size %d: %w",
			state, hdr.TotalSize, ErrProtocol)
	}
	payload := make([]byte, hdr.PayloadSize())
	if err := netio.RecvExact(cfg.Down, payload); err != nil {
		return fmt.Errorf("handshake at %v: %w", state, err)
	}
	state = StatePayloadRead

	if cfg.Logger != nil {
		cfg.Logger.Debugf("handshake record: seq=%d commit=%d payload=%d checksum=%d (computed %d)",
			hdr.SeqID, hdr.CommitID, len(payload), hdr.Checksum, wire.Checksum(payload))
	}

	sc := wire.NewScanner(payload)
	if !sc.Scan() {
		return fmt.Errorf("handshake at %v: empty startup record: %w", state, errOr(sc.Err(), ErrProtocol))
	}
	switch sc.Type() {
	case wire.MsgTakeBecomingPrimaryCheckpoint:
		// First-time startup; fall through to the reply stages.
	case wire.MsgCheckpoint:
		length := int64(-1)
		if body := sc.Body(); len(body) >= 8 {
			length = int64(binary.LittleEndian.Uint64(body[:8]))
		}
		return fmt.Errorf("handshake at %v: checkpoint of %d bytes offered: %w",
			state, length, ErrRecoveryUnimplemented)
	default:
		return fmt.Errorf("handshake at %v: tag %v: %w", state, sc.Type(), ErrProtocol)
	}
	state = StateDispatched

	initial := make([]byte, wire.InitialMessageSize(cfg.InitialMethodID, len(cfg.InitialArgs)))
	wire.PutInitialMessage(initial, cfg.InitialMethodID, true, cfg.InitialArgs)
	if err := netio.SendAll(cfg.Up, initial); err != nil {
		return fmt.Errorf("handshake at %v: %w", state, err)
	}
	state = StateInitialSent

	ckptPayload := cfg.Checkpoint()
	ckpt := make([]byte, wire.CheckpointSize(len(ckptPayload)))
	wire.PutCheckpoint(ckpt, ckptPayload)
	if err := netio.SendAll(cfg.Up, ckpt); err != nil {
		return fmt.Errorf("handshake at %v: %w", state, err)
	}
	state = StateReady

	if cfg.Logger != nil {
		cfg.Logger.Debugf("handshake %v: initial method %d (%d arg bytes), checkpoint %d bytes",
			state, cfg.InitialMethodID, len(cfg.InitialArgs), len(ckptPayload))
	}
	return nil
}

func errOr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
