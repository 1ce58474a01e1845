package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	immortal "github.com/ehrlich-b/go-immortal"
	"github.com/ehrlich-b/go-immortal/internal/wire"
)

const waitFor = 5 * time.Second

// harness stands up a runtime against a mock Coordinator with the handshake
// already complete.
type harness struct {
	mock    *immortal.MockCoordinator
	handler *immortal.RecordingHandler
	rt      *immortal.Runtime
	runDone chan error
}

func newHarness(t *testing.T, handler *immortal.RecordingHandler) *harness {
	t.Helper()
	mock, err := immortal.NewMockCoordinator()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	startErr := make(chan error, 1)
	go func() { startErr <- mock.Start() }()

	params := immortal.DefaultParams(handler)
	params.UpPort = mock.UpPort
	params.DownPort = mock.DownPort
	params.BufferBytes = 1 << 20

	rt, err := immortal.Initialize(params, nil)
	require.NoError(t, err)
	require.NoError(t, <-startErr)
	t.Cleanup(func() { rt.Close() })

	return &harness{mock: mock, handler: handler, rt: rt, runDone: make(chan error, 1)}
}

func (h *harness) startRun() {
	go func() { h.runDone <- h.rt.Run() }()
}

func (h *harness) waitRun(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.runDone:
		return err
	case <-time.After(waitFor):
		t.Fatal("dispatch loop did not return")
		return nil
	}
}

// handshakeBytes is the exact outbound stream the startup protocol produces
// with default parameters.
func handshakeBytes() []byte {
	initial := make([]byte, wire.InitialMessageSize(32, 3))
	wire.PutInitialMessage(initial, 32, true, []byte{5, 4, 3})
	ckpt := make([]byte, wire.CheckpointSize(len(immortal.DefaultCheckpointPayload)))
	wire.PutCheckpoint(ckpt, []byte(immortal.DefaultCheckpointPayload))
	return append(initial, ckpt...)
}

// scanOutbound parses a client byte stream into its envelope tags, stepping
// over the out-of-envelope checkpoint payloads.
func scanOutbound(t *testing.T, stream []byte) []wire.MsgType {
	t.Helper()
	var tags []wire.MsgType
	for len(stream) > 0 {
		sc := wire.NewScanner(stream)
		require.True(t, sc.Scan(), "scan failed: %v (stream % x)", sc.Err(), stream)
		tags = append(tags, sc.Type())
		stream = stream[sc.Offset():]
		if sc.Type() == wire.MsgCheckpoint {
			body := sc.Body()
			require.GreaterOrEqual(t, len(body), 8)
			length := int(body[0]) // payload lengths in these tests are < 256
			stream = stream[length:]
		}
	}
	return tags
}

func TestHandshake(t *testing.T) {
	h := newHarness(t, &immortal.RecordingHandler{})

	want := handshakeBytes()
	got := h.mock.WaitCaptured(len(want), waitFor)
	assert.Equal(t, want, got, "handshake byte stream")
}

func TestAttachOnce(t *testing.T) {
	handler := &immortal.RecordingHandler{}
	h := newHarness(t, handler)
	handler.Hook = func(methodID int32, args []byte) {
		switch methodID {
		case 50:
			require.NoError(t, h.rt.SendRPC("peer", 60, true, []byte{1}))
			require.NoError(t, h.rt.SendRPC("peer", 61, true, []byte{2}))
		case 51:
			require.NoError(t, h.rt.SendRPC("peer", 62, true, []byte{3}))
			h.rt.Shutdown()
		}
	}

	h.startRun()
	require.NoError(t, h.mock.SendRecord(h.mock.InboundRPC(50, true, nil)))
	require.NoError(t, h.mock.SendRecord(h.mock.InboundRPC(51, true, nil)))
	require.NoError(t, h.waitRun(t))

	expect := len(handshakeBytes()) + wire.AttachToSize(len("peer")) +
		wire.OutgoingRPCSize(len("peer"), 60, 1) +
		wire.OutgoingRPCSize(len("peer"), 61, 1) +
		wire.OutgoingRPCSize(len("peer"), 62, 1)
	stream := h.mock.WaitCaptured(expect, waitFor)
	tags := scanOutbound(t, stream[len(handshakeBytes()):])
	assert.Equal(t, []wire.MsgType{
		wire.MsgAttachTo, wire.MsgRPC, wire.MsgRPC, wire.MsgRPC,
	}, tags, "exactly one AttachTo, before the RPCs, never repeated")
}

func TestInboundRPC(t *testing.T) {
	handler := &immortal.RecordingHandler{}
	h := newHarness(t, handler)
	handler.Hook = func(methodID int32, args []byte) { h.rt.Shutdown() }

	h.startRun()
	require.NoError(t, h.mock.SendRecord(h.mock.InboundRPC(33, true, []byte{0x00, 0x01, 0x02})))
	require.NoError(t, h.waitRun(t))

	calls := handler.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, int32(33), calls[0].MethodID)
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, calls[0].Args)
}

func TestRPCBatch(t *testing.T) {
	handler := &immortal.RecordingHandler{}
	h := newHarness(t, handler)
	handler.Hook = func(methodID int32, args []byte) {
		if methodID == 34 {
			h.rt.Shutdown()
		}
	}

	h.startRun()
	batch := h.mock.Batch(
		h.mock.InboundRPC(33, true, nil),
		h.mock.InboundRPC(34, true, []byte{0xff}),
	)
	require.NoError(t, h.mock.SendRecord(batch))
	require.NoError(t, h.waitRun(t))

	calls := handler.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, int32(33), calls[0].MethodID)
	assert.Empty(t, calls[0].Args)
	assert.Equal(t, int32(34), calls[1].MethodID)
	assert.Equal(t, []byte{0xff}, calls[1].Args)
}

// TakeCheckpoint between two RPCs: both upcalls run, exactly one Checkpoint
// goes out, positioned after the first upcall's output and before the
// second's.
func TestTakeCheckpointMidStream(t *testing.T) {
	handler := &immortal.RecordingHandler{}
	h := newHarness(t, handler)
	handler.Hook = func(methodID int32, args []byte) {
		require.NoError(t, h.rt.SendRPC("peer", methodID+100, true, nil))
		if methodID == 34 {
			h.rt.Shutdown()
		}
	}

	h.startRun()
	require.NoError(t, h.mock.SendRecord(
		h.mock.InboundRPC(33, true, nil),
		h.mock.Envelope(byte(wire.MsgTakeCheckpoint), nil),
		h.mock.InboundRPC(34, true, nil),
	))
	require.NoError(t, h.waitRun(t))

	calls := handler.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, int32(33), calls[0].MethodID)
	assert.Equal(t, int32(34), calls[1].MethodID)

	expect := len(handshakeBytes()) + wire.AttachToSize(len("peer")) +
		wire.OutgoingRPCSize(len("peer"), 133, 0) +
		wire.OutgoingRPCSize(len("peer"), 134, 0) +
		wire.CheckpointSize(len(immortal.DefaultCheckpointPayload))
	stream := h.mock.WaitCaptured(expect, waitFor)
	tags := scanOutbound(t, stream[len(handshakeBytes()):])
	assert.Equal(t, []wire.MsgType{
		wire.MsgAttachTo, wire.MsgRPC, wire.MsgCheckpoint, wire.MsgRPC,
	}, tags, "checkpoint ordered between the upcalls' output")

	// Exactly one checkpoint beyond the handshake's.
	count := 0
	for _, tag := range tags {
		if tag == wire.MsgCheckpoint {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestShutdownDuringUpcall(t *testing.T) {
	handler := &immortal.RecordingHandler{}
	h := newHarness(t, handler)
	handler.Hook = func(methodID int32, args []byte) {
		if methodID == 40 {
			h.rt.Shutdown()
		}
	}

	h.startRun()
	// Shutdown fires on the first envelope; the rest of the record must
	// still be dispatched before Run returns.
	require.NoError(t, h.mock.SendRecord(
		h.mock.InboundRPC(40, true, nil),
		h.mock.InboundRPC(41, true, nil),
	))
	require.NoError(t, h.waitRun(t))

	calls := handler.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, int32(41), calls[1].MethodID)

	s := h.rt.Metrics().Snapshot()
	assert.Equal(t, uint64(1), s.LogRecords)
	assert.Equal(t, uint64(2), s.RPCsIn)
	require.NoError(t, h.rt.Close())
}

func TestMultipleRuntimeInstances(t *testing.T) {
	// Two runtimes must coexist without shared state.
	h1 := newHarness(t, &immortal.RecordingHandler{})
	h2 := newHarness(t, &immortal.RecordingHandler{})
	assert.NotEqual(t, h1.rt.ID(), h2.rt.ID())

	want := handshakeBytes()
	assert.Equal(t, want, h1.mock.WaitCaptured(len(want), waitFor))
	assert.Equal(t, want, h2.mock.WaitCaptured(len(want), waitFor))
}
