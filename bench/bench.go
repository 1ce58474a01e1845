// Package bench implements the example services that exercise the runtime: a
// throughput experiment that pushes rounds of halving message sizes between
// two Immortals, and a ping-pong mode that measures round-trip latencies
// through the Coordinator pair. It is the reference for wiring an
// application onto the runtime facade; none of the core depends on it.
package bench

import (
	"sort"
	"time"

	"github.com/rs/xid"

	immortal "github.com/ehrlich-b/go-immortal"
)

// Method table shared by both endpoints. Startup doubles as the initial
// message the handshake wraps.
const (
	MethodStartup    int32 = 32
	MethodThroughput int32 = 33
	MethodAck        int32 = 34
)

// Round sizing. Message sizes halve from max to min across rounds.
const (
	MaxMessageBytes = 2 * 1024 * 1024 // must stay a power of 2
	MinMessageBytes = 16
	oneGiB          = int64(1) << 30
)

// Mode selects the experiment.
type Mode int

const (
	ModeThroughput Mode = iota
	ModePingPong
)

// Config parameterizes a service endpoint.
type Config struct {
	// Sender drives the experiment; the receiver counts messages and
	// acknowledges rounds. An empty Dest makes the sender talk to
	// itself.
	Sender bool
	Mode   Mode
	Dest   string

	// BytesPerRound is the data volume per throughput round (default
	// 1 GiB). In ping-pong mode it instead bounds the number of
	// round trips.
	BytesPerRound int64

	// Trials repeats the whole experiment (default 1).
	Trials int

	// Prefill sends one warm-up round's worth of messages before the
	// timed round, filling the pipe.
	Prefill bool

	Logger immortal.Logger
}

// Service is one benchmark endpoint. It implements immortal.Handler; bind it
// to a runtime with Bind before the dispatch loop starts.
type Service struct {
	cfg   Config
	runID xid.ID
	rt    *immortal.Runtime

	msgBytes        int   // current round's message size
	expected        int64 // receiver: messages left this round
	dummyRound      bool  // one untimed round before measuring
	waitingFinalAck bool
	trialsLeft      int
	roundStart      time.Time

	pingpongs int
	latencies []time.Duration
}

// New creates a service endpoint. The returned Service is the Handler to
// put in immortal.Params.
func New(cfg Config) *Service {
	if cfg.BytesPerRound <= 0 {
		cfg.BytesPerRound = oneGiB
	}
	if cfg.Trials <= 0 {
		cfg.Trials = 1
	}
	s := &Service{
		cfg:        cfg,
		runID:      xid.New(),
		trialsLeft: cfg.Trials,
	}
	s.resetTrial()
	return s
}

// Bind attaches the runtime handle. Must happen between Initialize and Run.
func (s *Service) Bind(rt *immortal.Runtime) { s.rt = rt }

// RunID identifies this endpoint's run in logs and reports.
func (s *Service) RunID() string { return s.runID.String() }

func (s *Service) resetTrial() {
	s.msgBytes = MaxMessageBytes
	s.dummyRound = !s.cfg.Prefill
	s.waitingFinalAck = false
	if s.cfg.Mode == ModePingPong {
		s.msgBytes = 1
		s.dummyRound = false
		s.pingpongs = 0
		s.latencies = s.latencies[:0]
	}
	s.setExpected()
}

func (s *Service) setExpected() {
	if s.cfg.Mode == ModePingPong {
		s.expected = 1
		return
	}
	s.expected = s.cfg.BytesPerRound / int64(s.msgBytes)
	if s.cfg.Prefill {
		s.expected *= 2
	}
}

// HandleRPC implements immortal.Handler: the generated-dispatch switch over
// the method table.
func (s *Service) HandleRPC(methodID int32, args []byte) {
	switch methodID {
	case MethodStartup:
		s.startRound()
	case MethodThroughput:
		s.receiveMessage(args)
	case MethodAck:
		s.receiveAck()
	default:
		if s.cfg.Logger != nil {
			s.cfg.Logger.Printf("bench %s: unknown method id %d (%d arg bytes)",
				s.runID, methodID, len(args))
		}
	}
}

// startRound begins a round: the sender pushes its messages, the receiver
// arms its counter.
func (s *Service) startRound() {
	if s.cfg.Sender || s.cfg.Dest == "" {
		s.sendLoop()
		return
	}
	s.setExpected()
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf("bench %s: receiver round msg_bytes=%d expected=%d",
			s.runID, s.msgBytes, s.expected)
	}
}

func (s *Service) sendLoop() {
	iterations := s.cfg.BytesPerRound / int64(s.msgBytes)
	if s.cfg.Mode == ModePingPong {
		iterations = 1
	}

	args := make([]byte, s.msgBytes)
	for i := range args {
		args[i] = byte(i)
	}

	rep := int64(0)
	if s.cfg.Prefill {
		rep = -iterations
	}
	for ; rep < iterations; rep++ {
		if rep == 0 {
			s.roundStart = time.Now()
		}
		if err := s.rt.SendRPC(s.cfg.Dest, MethodThroughput, true, args); err != nil {
			if s.cfg.Logger != nil {
				s.cfg.Logger.Printf("bench %s: send failed: %v", s.runID, err)
			}
			s.rt.Shutdown()
			return
		}
	}

	if s.cfg.Mode == ModeThroughput {
		duration := time.Since(s.roundStart)
		if !s.dummyRound {
			s.report("send-side", iterations, duration)
		}
		// Without per-round acks the sender paces itself.
		s.endRound()
	}
}

// receiveMessage counts down the round on the receiver side.
func (s *Service) receiveMessage(args []byte) {
	s.expected--
	if s.expected > 0 {
		return
	}
	if s.cfg.Mode == ModePingPong {
		s.sendAck()
		s.setExpected()
		return
	}
	s.sendAck()
	if s.advanceRound() {
		s.setExpected()
		return
	}
	// Last round acknowledged; this endpoint is done.
	s.finishTrial()
}

// receiveAck drives the sender forward in ping-pong mode and releases the
// final-round wait in throughput mode.
func (s *Service) receiveAck() {
	if s.waitingFinalAck {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Printf("bench %s: final ack received", s.runID)
		}
		s.finishTrial()
		return
	}
	if s.cfg.Mode != ModePingPong {
		return
	}
	s.latencies = append(s.latencies, time.Since(s.roundStart))
	s.pingpongs++
	if int64(s.pingpongs) < s.cfg.BytesPerRound {
		s.roundStart = time.Now()
		s.sendLoop()
		return
	}
	s.reportPingPong()
	s.finishTrial()
}

// advanceRound halves the message size; returns false after the last round.
func (s *Service) advanceRound() bool {
	if s.dummyRound {
		s.dummyRound = false
		return true
	}
	if s.msgBytes > MinMessageBytes {
		s.msgBytes /= 2
		return true
	}
	return false
}

// endRound chains the sender into the next round by bouncing a startup
// message to itself through the Coordinator, preserving replayability.
func (s *Service) endRound() {
	if s.advanceRound() {
		if err := s.rt.SendRPC("", MethodStartup, true, nil); err != nil {
			if s.cfg.Logger != nil {
				s.cfg.Logger.Printf("bench %s: self-startup failed: %v", s.runID, err)
			}
			s.rt.Shutdown()
		}
		return
	}
	// Finished the last round; wait for the receiver's shutdown ack.
	s.waitingFinalAck = true
}

func (s *Service) sendAck() {
	if err := s.rt.SendRPC(s.cfg.Dest, MethodAck, true, nil); err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Printf("bench %s: ack failed: %v", s.runID, err)
	}
}

func (s *Service) finishTrial() {
	s.trialsLeft--
	if s.trialsLeft > 0 {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Printf("bench %s: trial finished, %d remaining", s.runID, s.trialsLeft)
		}
		s.resetTrial()
		s.startRound()
		return
	}
	s.rt.Shutdown()
}

func (s *Service) report(side string, msgs int64, d time.Duration) {
	if s.cfg.Logger == nil || d <= 0 {
		return
	}
	gib := float64(msgs*int64(s.msgBytes)) / float64(oneGiB)
	s.cfg.Logger.Printf("bench %s: %s round msg_bytes=%d throughput=%.3f GiB/s duration=%v msgs=%d",
		s.runID, side, s.msgBytes, gib/d.Seconds(), d, msgs)
}

func (s *Service) reportPingPong() {
	if s.cfg.Logger == nil || len(s.latencies) == 0 {
		return
	}
	sorted := append([]time.Duration(nil), s.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	p50 := sorted[len(sorted)/2]
	p99 := sorted[len(sorted)*99/100]
	s.cfg.Logger.Printf("bench %s: %d pingpongs p50=%v p99=%v min=%v max=%v",
		s.runID, len(sorted), p50, p99, sorted[0], sorted[len(sorted)-1])
}
