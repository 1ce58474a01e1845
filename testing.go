package immortal

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ehrlich-b/go-immortal/internal/wire"
)

// MockCoordinator speaks enough of the Coordinator's side of the wire
// protocol to exercise a runtime in tests: it accepts the client's up
// connection, dials the client's down port, frames log records with valid
// headers, and captures everything the client sends. This is useful for unit
// testing applications against the runtime without a real Coordinator.
type MockCoordinator struct {
	UpPort   int
	DownPort int

	upLn net.Listener
	up   net.Conn // client -> coordinator (accepted)
	down net.Conn // coordinator -> client (dialed)

	seq      int64
	commitID int32

	mu       sync.Mutex
	captured bytes.Buffer
}

// NewMockCoordinator reserves ports for both streams. The up listener is
// live immediately so a runtime may start initializing right away; the down
// port is probed free and dialed during Start.
func NewMockCoordinator() (*MockCoordinator, error) {
	upLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	downLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		upLn.Close()
		return nil, err
	}
	downPort := downLn.Addr().(*net.TCPAddr).Port
	downLn.Close()

	return &MockCoordinator{
		UpPort:   upLn.Addr().(*net.TCPAddr).Port,
		DownPort: downPort,
		upLn:     upLn,
	}, nil
}

// Start completes the connection pair and performs the Coordinator's half of
// the startup protocol: it sends a TakeBecomingPrimaryCheckpoint record and
// begins capturing outbound bytes.
func (m *MockCoordinator) Start() error {
	conn, err := m.upLn.Accept()
	if err != nil {
		return err
	}
	m.up = conn
	m.upLn.Close()

	// The client listens on the down port only after its up dial
	// succeeds; retry briefly.
	deadline := time.Now().Add(5 * time.Second)
	for {
		m.down, err = net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", m.DownPort))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("dial client down port: %w", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	go m.capture()

	return m.SendRecord(m.Envelope(byte(wire.MsgTakeBecomingPrimaryCheckpoint), nil))
}

func (m *MockCoordinator) capture() {
	buf := make([]byte, 64*1024)
	for {
		n, err := m.up.Read(buf)
		if n > 0 {
			m.mu.Lock()
			m.captured.Write(buf[:n])
			m.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// SendRecord frames the envelopes as one log record with a valid header and
// writes it to the down stream.
func (m *MockCoordinator) SendRecord(envelopes ...[]byte) error {
	var payload []byte
	for _, env := range envelopes {
		payload = append(payload, env...)
	}
	m.seq++
	m.commitID++
	hdr := wire.LogHeader{
		CommitID:  m.commitID,
		TotalSize: int32(wire.HeaderSize + len(payload)),
		Checksum:  wire.Checksum(payload),
		SeqID:     m.seq,
	}
	record := append(hdr.MarshalBinary(), payload...)
	if _, err := m.down.Write(record); err != nil {
		return err
	}
	return nil
}

// Envelope frames a raw body under the given tag.
func (m *MockCoordinator) Envelope(tag byte, body []byte) []byte {
	buf := make([]byte, wire.EnvelopeSize(len(body)))
	wire.PutEnvelope(buf, wire.MsgType(tag), body)
	return buf
}

// InboundRPC frames a complete inbound-form RPC envelope.
func (m *MockCoordinator) InboundRPC(methodID int32, fireForget bool, args []byte) []byte {
	buf := make([]byte, wire.IncomingRPCSize(methodID, len(args)))
	wire.PutIncomingRPC(buf, methodID, fireForget, args)
	return buf
}

// Batch frames complete envelopes as one RPCBatch envelope.
func (m *MockCoordinator) Batch(envelopes ...[]byte) []byte {
	var body []byte
	count := make([]byte, wire.MaxVarintLen)
	n := wire.PutZigZag(count, int32(len(envelopes)))
	body = append(body, count[:n]...)
	for _, env := range envelopes {
		body = append(body, env...)
	}
	return m.Envelope(byte(wire.MsgRPCBatch), body)
}

// Captured returns a copy of all outbound bytes received so far.
func (m *MockCoordinator) Captured() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.captured.Bytes()...)
}

// WaitCaptured polls until at least n outbound bytes have arrived or the
// timeout passes, returning whatever is captured.
func (m *MockCoordinator) WaitCaptured(n int, timeout time.Duration) []byte {
	deadline := time.Now().Add(timeout)
	for {
		got := m.Captured()
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(time.Millisecond)
	}
}

// Close tears down both streams.
func (m *MockCoordinator) Close() {
	if m.upLn != nil {
		m.upLn.Close()
	}
	if m.up != nil {
		m.up.Close()
	}
	if m.down != nil {
		m.down.Close()
	}
}

// RecordingHandler is a Handler that captures upcalls for verification.
type RecordingHandler struct {
	mu    sync.Mutex
	calls []RecordedCall

	// Hook, when set, runs synchronously after each recorded call, on
	// the dispatch thread. Applications use it to issue outbound RPCs or
	// request shutdown mid-test.
	Hook func(methodID int32, args []byte)
}

// RecordedCall is one captured upcall.
type RecordedCall struct {
	MethodID int32
	Args     []byte
}

// HandleRPC implements Handler.
func (h *RecordingHandler) HandleRPC(methodID int32, args []byte) {
	h.mu.Lock()
	h.calls = append(h.calls, RecordedCall{methodID, append([]byte(nil), args...)})
	h.mu.Unlock()
	if h.Hook != nil {
		h.Hook(methodID, args)
	}
}

// Calls returns a copy of the captured upcalls.
func (h *RecordingHandler) Calls() []RecordedCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]RecordedCall(nil), h.calls...)
}

// WaitCalls polls until at least n upcalls are captured or the timeout
// passes.
func (h *RecordingHandler) WaitCalls(n int, timeout time.Duration) []RecordedCall {
	deadline := time.Now().Add(timeout)
	for {
		calls := h.Calls()
		if len(calls) >= n || time.Now().After(deadline) {
			return calls
		}
		time.Sleep(time.Millisecond)
	}
}
