// Package immortal provides the client runtime for a virtual-resiliency
// messaging platform. The application process never touches the network: it
// hands the runtime a Handler and issues outbound RPCs through it, while a
// local Coordinator sidecar durably logs every message and checkpoint and
// replays them on recovery. The runtime's job is to produce a byte-identical
// outbound stream across original execution and replay, answer
// TakeCheckpoint prompts, and dispatch inbound calls in strict log order.
package immortal

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/ehrlich-b/go-immortal/internal/constants"
	"github.com/ehrlich-b/go-immortal/internal/engine"
	"github.com/ehrlich-b/go-immortal/internal/handshake"
	"github.com/ehrlich-b/go-immortal/internal/netio"
	"github.com/ehrlich-b/go-immortal/internal/ring"
	"github.com/ehrlich-b/go-immortal/internal/wire"
)

// Handler receives application upcalls. HandleRPC runs synchronously on the
// dispatch thread in strict arrival order; args aliases the record buffer
// and is only valid for the duration of the call. The handler may issue
// outbound RPCs through the runtime from inside an upcall.
type Handler interface {
	HandleRPC(methodID int32, args []byte)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(methodID int32, args []byte)

func (f HandlerFunc) HandleRPC(methodID int32, args []byte) { f(methodID, args) }

// Logger is the minimal logging sink the runtime accepts. A nil Logger is
// valid and silent. internal/logging.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Params configures a runtime instance.
type Params struct {
	// UpPort is the loopback port the runtime connects to for outbound
	// data; DownPort is the loopback port it listens on for the
	// Coordinator's inbound stream.
	UpPort   int
	DownPort int

	// Handler receives inbound RPC upcalls. Required.
	Handler Handler

	// CheckpointProducer supplies checkpoint payloads on demand: once
	// during the handshake and once per TakeCheckpoint prompt. Defaults
	// to a constant placeholder payload.
	CheckpointProducer func() []byte

	// InitialMethodID and InitialArgs form the application's startup
	// call, wrapped in the handshake's InitialMessage and echoed back by
	// the Coordinator as the first upcall.
	InitialMethodID int32
	InitialArgs     []byte

	// BufferBytes sizes the outbound ring. Values <= 0 select a default
	// no smaller than MaxMessageBytes plus envelope overhead.
	BufferBytes int

	// MaxMessageBytes is the largest single record the application will
	// send; it floors the default ring size.
	MaxMessageBytes int

	// IPv6 selects the loopback address family for both streams.
	IPv6 bool

	// UseUring selects the io_uring send path on builds that carry it.
	UseUring bool
}

// DefaultCheckpointPayload is the placeholder checkpoint body used when no
// CheckpointProducer is supplied. Durable application state is not yet
// snapshotted; the Coordinator only needs a well-formed blob to log.
const DefaultCheckpointPayload = "dummyckpt"

// DefaultInitialMethodID is the conventional startup method id.
const DefaultInitialMethodID = 32

// DefaultParams returns parameters with the conventional startup call and
// checkpoint placeholder filled in.
func DefaultParams(handler Handler) Params {
	return Params{
		Handler:         handler,
		InitialMethodID: DefaultInitialMethodID,
		InitialArgs:     []byte{5, 4, 3},
		MaxMessageBytes: 2 * 1024 * 1024,
	}
}

// Options contains additional knobs for Initialize.
type Options struct {
	// Logger for debug/info messages (if nil, no logging).
	Logger Logger

	// Metrics receives runtime counters; a fresh instance is created
	// when nil.
	Metrics *Metrics
}

// Runtime is one Immortal client instance. Exactly two goroutines touch its
// state: the application/dispatch thread (Run, upcalls, and every outbound
// helper) and the progress thread the runtime spawns. Outbound helpers are
// not safe for use from any other goroutine -- the ring is single-producer
// by contract.
type Runtime struct {
	id      xid.ID
	params  Params
	logger  Logger
	metrics *Metrics

	up   net.Conn
	down net.Conn
	ring *ring.Buffer

	loop     *engine.Loop
	progress *engine.Progress
	shutdown atomic.Bool

	// attached is owned by the producer thread; at most one AttachTo is
	// ever emitted per destination.
	attached map[string]struct{}

	closed atomic.Bool
}

// Initialize connects both Coordinator streams, runs the startup handshake,
// allocates the outbound ring, and spawns the progress thread. On success
// the runtime is Ready: call Run to start dispatching.
func Initialize(params Params, opts *Options) (*Runtime, error) {
	if params.Handler == nil {
		return nil, NewError("INIT", ErrCodeProtocolError, "nil handler")
	}
	if opts == nil {
		opts = &Options{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	ckpt := params.CheckpointProducer
	if ckpt == nil {
		ckpt = func() []byte { return []byte(DefaultCheckpointPayload) }
	}

	bufBytes := params.BufferBytes
	if bufBytes <= 0 {
		bufBytes = constants.DefaultBufferBytes
		if floor := params.MaxMessageBytes + constants.MinBufferSlack; floor > bufBytes {
			bufBytes = floor
		}
	}

	r := &Runtime{
		id:       xid.New(),
		params:   params,
		logger:   opts.Logger,
		metrics:  metrics,
		attached: make(map[string]struct{}),
	}
	r.params.CheckpointProducer = ckpt

	netCfg := netio.Config{
		IPv6:           params.IPv6,
		DialRetryFor:   constants.DialRetryWindow,
		DialRetryEvery: constants.DialRetryInterval,
	}
	up, err := netio.Dial(params.UpPort, netCfg)
	if err != nil {
		return nil, WrapError("CONNECT_UP", err)
	}
	down, err := netio.ListenAccept(params.DownPort, netCfg)
	if err != nil {
		up.Close()
		return nil, WrapError("ACCEPT_DOWN", err)
	}
	r.up, r.down = up, down

	if r.logger != nil {
		r.logger.Printf("runtime %s: streams up (up_port=%d down_port=%d buffer=%d)",
			r.id, params.UpPort, params.DownPort, bufBytes)
	}

	err = handshake.Run(handshake.Config{
		Up:              up,
		Down:            down,
		InitialMethodID: params.InitialMethodID,
		InitialArgs:     params.InitialArgs,
		Checkpoint:      ckpt,
		Logger:          r.logger,
	})
	if err != nil {
		r.closeStreams()
		return nil, WrapError("HANDSHAKE", err)
	}

	r.ring = ring.New(bufBytes)
	progress, err := engine.NewProgress(up, r.ring, r.logger, metrics, params.UseUring)
	if err != nil {
		r.closeStreams()
		return nil, WrapError("INIT", err)
	}
	r.progress = progress
	r.loop = engine.NewLoop(engine.Config{
		Down:       down,
		Ring:       r.ring,
		Handler:    params.Handler,
		Checkpoint: ckpt,
		Logger:     r.logger,
		Observer:   metrics,
		Shutdown:   &r.shutdown,
	})
	progress.Start()

	if r.logger != nil {
		r.logger.Debugf("runtime %s: handshake complete, progress thread started", r.id)
	}
	return r, nil
}

// Run executes the dispatch loop on the calling thread. It returns when the
// shutdown flag is set (nil) or on the first fatal error, after draining and
// stopping the progress thread either way.
func (r *Runtime) Run() error {
	err := r.loop.Run()

	// No more upcalls can produce outbound bytes; unblock any parked
	// reservation, then let the progress thread drain what was released.
	r.ring.Close()
	perr := r.progress.Stop()

	if err != nil {
		return WrapError("DISPATCH", err)
	}
	if perr != nil {
		return WrapError("PROGRESS", perr)
	}
	if r.logger != nil {
		r.logger.Printf("runtime %s: dispatch loop exited cleanly", r.id)
	}
	return nil
}

// Shutdown requests a cooperative stop: the dispatch loop finishes the log
// record in flight and Run returns. It does not unwind the stack and is safe
// to call from inside an upcall.
func (r *Runtime) Shutdown() {
	r.shutdown.Store(true)
}

// Close releases the sockets. A dispatch loop parked in a header read is
// unblocked (fatally) by this; orderly termination is Shutdown followed by
// Run returning.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.metrics.StopTime.Store(time.Now().UnixNano())
	r.closeStreams()
	return nil
}

func (r *Runtime) closeStreams() {
	if r.up != nil {
		r.up.Close()
	}
	if r.down != nil {
		r.down.Close()
	}
}

// ID returns the instance id stamped into this runtime's log lines.
func (r *Runtime) ID() string { return r.id.String() }

// Metrics returns the runtime's counters, e.g. for a Collector.
func (r *Runtime) Metrics() *Metrics { return r.metrics }

// AttachIfNeeded emits an AttachTo envelope the first time a non-empty
// destination is used. The Coordinator needs one attachment per destination
// before routing RPCs there; the set guarantees at most one per destination
// per runtime instance. Producer-thread only.
func (r *Runtime) AttachIfNeeded(dest string) error {
	if dest == "" {
		return nil
	}
	if _, ok := r.attached[dest]; ok {
		return nil
	}
	size := wire.AttachToSize(len(dest))
	region, err := r.ring.Reserve(size)
	if err != nil {
		return r.sendError(dest, err)
	}
	wire.PutAttachTo(region, dest)
	r.ring.Release(size)
	r.attached[dest] = struct{}{}
	r.metrics.ObserveAttach()
	if r.logger != nil {
		r.logger.Debugf("attached to destination %q", dest)
	}
	return nil
}

// SendRPC frames one outbound RPC and releases it to the progress thread,
// attaching to the destination first if needed. An empty destination sends
// to the instance itself. Producer-thread only.
func (r *Runtime) SendRPC(dest string, methodID int32, fireForget bool, args []byte) error {
	if err := r.AttachIfNeeded(dest); err != nil {
		return err
	}
	size := wire.OutgoingRPCSize(len(dest), methodID, len(args))
	region, err := r.ring.Reserve(size)
	if err != nil {
		return r.sendError(dest, err)
	}
	wire.PutOutgoingRPC(region, dest, wire.RPCKindCall, methodID, fireForget, args)
	r.ring.Release(size)
	r.metrics.ObserveRPCOut(size)
	return nil
}

// OutboundRPC describes one call inside an outbound batch.
type OutboundRPC struct {
	MethodID   int32
	FireForget bool
	Args       []byte
}

// SendRPCBatch frames the calls as a single RPCBatch envelope: one reserve,
// one release, so the batch hits the wire as one atomic unit. Producer-thread
// only.
func (r *Runtime) SendRPCBatch(dest string, calls []OutboundRPC) error {
	if len(calls) == 0 {
		return nil
	}
	if err := r.AttachIfNeeded(dest); err != nil {
		return err
	}

	body := wire.ZigZagSize(int32(len(calls)))
	for _, c := range calls {
		body += wire.OutgoingRPCSize(len(dest), c.MethodID, len(c.Args))
	}
	size := wire.EnvelopeSize(body)

	region, err := r.ring.Reserve(size)
	if err != nil {
		return r.sendError(dest, err)
	}
	n := wire.PutEnvelopeHeader(region, wire.MsgRPCBatch, body)
	n += wire.PutZigZag(region[n:], int32(len(calls)))
	for _, c := range calls {
		n += wire.PutOutgoingRPC(region[n:], dest, wire.RPCKindCall, c.MethodID, c.FireForget, c.Args)
	}
	r.ring.Release(n)
	r.metrics.ObserveRPCOut(n)
	return nil
}

func (r *Runtime) sendError(dest string, err error) error {
	we := WrapError("SEND", err)
	we.Dest = dest
	return we
}
