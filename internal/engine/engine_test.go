package engine

import (
	"bytes"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/ehrlich-b/go-immortal/internal/ring"
	"github.com/ehrlich-b/go-immortal/internal/wire"
)

type upcall struct {
	method int32
	args   []byte
}

// scriptedHandler records upcalls and can run a hook per call (to issue
// outbound RPCs or flip the shutdown flag, as a real application would).
type scriptedHandler struct {
	calls []upcall
	hook  func(methodID int32)
}

func (h *scriptedHandler) HandleRPC(methodID int32, args []byte) {
	h.calls = append(h.calls, upcall{methodID, append([]byte(nil), args...)})
	if h.hook != nil {
		h.hook(methodID)
	}
}

// record frames envelopes into a log record with a valid header.
func record(seq int64, envelopes ...[]byte) []byte {
	var payload []byte
	for _, env := range envelopes {
		payload = append(payload, env...)
	}
	hdr := wire.LogHeader{
		TotalSize: int32(wire.HeaderSize + len(payload)),
		Checksum:  wire.Checksum(payload),
		SeqID:     seq,
	}
	return append(hdr.MarshalBinary(), payload...)
}

func inboundRPC(methodID int32, args []byte) []byte {
	buf := make([]byte, wire.IncomingRPCSize(methodID, len(args)))
	wire.PutIncomingRPC(buf, methodID, true, args)
	return buf
}

func envelope(tag wire.MsgType, body []byte) []byte {
	buf := make([]byte, wire.EnvelopeSize(len(body)))
	wire.PutEnvelope(buf, tag, body)
	return buf
}

func batch(envelopes ...[]byte) []byte {
	var body []byte
	count := make([]byte, wire.MaxVarintLen)
	n := wire.PutZigZag(count, int32(len(envelopes)))
	body = append(body, count[:n]...)
	for _, env := range envelopes {
		body = append(body, env...)
	}
	return envelope(wire.MsgRPCBatch, body)
}

// runLoop feeds the records to a dispatch loop over a pipe and returns the
// loop error; the handler keeps its own observations. Each test's handler
// hook sets the shutdown flag on the last upcall unless the stream is meant
// to end first.
func runLoop(t *testing.T, h *scriptedHandler, rb *ring.Buffer, shutdown *atomic.Bool, records ...[]byte) error {
	t.Helper()
	client, coord := net.Pipe()
	defer client.Close()

	go func() {
		for _, r := range records {
			if _, err := coord.Write(r); err != nil {
				return
			}
		}
		coord.Close()
	}()

	loop := NewLoop(Config{
		Down:       client,
		Ring:       rb,
		Handler:    h,
		Checkpoint: func() []byte { return []byte("dummyckpt") },
		Shutdown:   shutdown,
	})
	return loop.Run()
}

func TestDispatchOrderWithinRecord(t *testing.T) {
	var shutdown atomic.Bool
	h := &scriptedHandler{hook: func(m int32) {
		if m == 35 {
			shutdown.Store(true)
		}
	}}
	err := runLoop(t, h, ring.New(1024), &shutdown,
		record(1,
			inboundRPC(33, []byte{1}),
			inboundRPC(34, []byte{2}),
			inboundRPC(35, []byte{3}),
		))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []upcall{{33, []byte{1}}, {34, []byte{2}}, {35, []byte{3}}}
	assertCalls(t, h.calls, want)
}

func TestDispatchBatch(t *testing.T) {
	var shutdown atomic.Bool
	h := &scriptedHandler{hook: func(m int32) {
		if m == 34 {
			shutdown.Store(true)
		}
	}}
	err := runLoop(t, h, ring.New(1024), &shutdown,
		record(1, batch(
			inboundRPC(33, nil),
			inboundRPC(34, []byte{0xff}),
		)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertCalls(t, h.calls, []upcall{{33, nil}, {34, []byte{0xff}}})
}

func TestBatchCountMismatch(t *testing.T) {
	var shutdown atomic.Bool
	h := &scriptedHandler{}
	// Batch declares 3 messages but carries 1.
	var body []byte
	count := make([]byte, wire.MaxVarintLen)
	n := wire.PutZigZag(count, 3)
	body = append(body, count[:n]...)
	body = append(body, inboundRPC(33, nil)...)

	err := runLoop(t, h, ring.New(1024), &shutdown,
		record(1, envelope(wire.MsgRPCBatch, body)))
	if !errors.Is(err, wire.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want ErrUnexpectedEOF", err)
	}
}

// A TakeCheckpoint between two RPCs must put the checkpoint into the
// outbound stream after bytes released by the first upcall and before bytes
// released by the second.
func TestTakeCheckpointOrdering(t *testing.T) {
	rb := ring.New(4096)
	var shutdown atomic.Bool
	h := &scriptedHandler{hook: func(m int32) {
		// Each upcall answers with an outbound RPC, like an
		// application would.
		size := wire.OutgoingRPCSize(len("peer"), m+100, 0)
		region, err := rb.Reserve(size)
		if err != nil {
			t.Errorf("Reserve: %v", err)
			return
		}
		wire.PutOutgoingRPC(region, "peer", wire.RPCKindCall, m+100, true, nil)
		rb.Release(size)
		if m == 34 {
			shutdown.Store(true)
		}
	}}

	err := runLoop(t, h, rb, &shutdown,
		record(1,
			inboundRPC(33, nil),
			envelope(wire.MsgTakeCheckpoint, nil),
			inboundRPC(34, nil),
		))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertCalls(t, h.calls, []upcall{{33, nil}, {34, nil}})

	// Drain the ring and scan the outbound stream.
	var outbound []byte
	for {
		slice := rb.Peek()
		if slice == nil {
			break
		}
		outbound = append(outbound, slice...)
		rb.Pop(len(slice))
	}
	var tags []wire.MsgType
	sc := wire.NewScanner(outbound)
	for sc.Scan() {
		tags = append(tags, sc.Type())
		if sc.Type() == wire.MsgCheckpoint {
			// The checkpoint payload rides outside the envelope;
			// skip it by scanning a fresh stream past it.
			rest := outbound[sc.Offset()+len("dummyckpt"):]
			sc = wire.NewScanner(rest)
		}
	}
	if sc.Err() != nil {
		t.Fatalf("outbound scan: %v", sc.Err())
	}
	want := []wire.MsgType{wire.MsgRPC, wire.MsgCheckpoint, wire.MsgRPC}
	if len(tags) != len(want) {
		t.Fatalf("outbound tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("outbound tags = %v, want %v", tags, want)
		}
	}
}

func TestShutdownFinishesCurrentRecord(t *testing.T) {
	var shutdown atomic.Bool
	h := &scriptedHandler{hook: func(m int32) {
		if m == 33 {
			shutdown.Store(true)
		}
	}}
	// Shutdown is requested by the first upcall; the second RPC in the
	// same record must still be dispatched.
	err := runLoop(t, h, ring.New(1024), &shutdown,
		record(1, inboundRPC(33, nil), inboundRPC(34, nil)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertCalls(t, h.calls, []upcall{{33, nil}, {34, nil}})
}

func TestUnknownTagFatal(t *testing.T) {
	var shutdown atomic.Bool
	h := &scriptedHandler{}
	// Tag 99 is outside the enumerated set.
	bad := []byte{0x02, 99}
	err := runLoop(t, h, ring.New(1024), &shutdown, record(1, bad))
	if !errors.Is(err, wire.ErrUnknownTag) {
		t.Errorf("err = %v, want ErrUnknownTag", err)
	}
}

func TestTruncatedStreamFatal(t *testing.T) {
	var shutdown atomic.Bool
	h := &scriptedHandler{}
	full := record(1, inboundRPC(33, nil))
	err := runLoop(t, h, ring.New(1024), &shutdown, full[:len(full)-2])
	if err == nil {
		t.Fatal("truncated record accepted")
	}
}

func assertCalls(t *testing.T, got, want []upcall) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d upcalls, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].method != want[i].method || !bytes.Equal(got[i].args, want[i].args) {
			t.Errorf("upcall %d = (%d, % x), want (%d, % x)",
				i, got[i].method, got[i].args, want[i].method, want[i].args)
		}
	}
}

func TestPayloadPool(t *testing.T) {
	for _, size := range []int{0, 1, size4k, size4k + 1, size64k, size1m, size1m + 1} {
		buf := GetBuffer(size)
		if len(buf) != size {
			t.Errorf("GetBuffer(%d) returned %d bytes", size, len(buf))
		}
		PutBuffer(buf)
	}
}
