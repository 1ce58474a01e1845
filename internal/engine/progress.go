package engine

import (
	"fmt"
	"net"
	"runtime"
	"sync/atomic"

	"github.com/ehrlich-b/go-immortal/internal/constants"
	"github.com/ehrlich-b/go-immortal/internal/interfaces"
	"github.com/ehrlich-b/go-immortal/internal/ring"
)

// sender ships one peeked slice to the Coordinator. The default is the plain
// socket sender; the uring build tag swaps in an io_uring submission path on
// Linux.
type sender interface {
	Send(buf []byte) error
	Close() error
}

// Progress is the network progress thread: the single consumer of the ring.
// It never decodes what it ships -- every released slice is one or more
// complete envelopes, so one send per peek coalesces many small RPCs into
// one syscall.
type Progress struct {
	ring     *ring.Buffer
	send     sender
	logger   interfaces.Logger
	observer interfaces.Observer

	stopping atomic.Bool
	done     chan struct{}
	err      error
}

// NewProgress creates a progress thread over the up stream. useUring selects
// the io_uring send path where the build supports it.
func NewProgress(up net.Conn, rb *ring.Buffer, logger interfaces.Logger, observer interfaces.Observer, useUring bool) (*Progress, error) {
	snd, err := newSender(up, useUring)
	if err != nil {
		return nil, err
	}
	return &Progress{
		ring:     rb,
		send:     snd,
		logger:   logger,
		observer: observer,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the drain loop.
func (p *Progress) Start() {
	go p.run()
}

func (p *Progress) run() {
	defer close(p.done)
	spin := constants.SpinBudget
	for {
		slice := p.ring.Peek()
		if len(slice) > 0 {
			if err := p.send.Send(slice); err != nil {
				p.err = fmt.Errorf("progress send of %d bytes: %w", len(slice), err)
				if p.logger != nil {
					p.logger.Printf("progress thread exiting: %v", p.err)
				}
				return
			}
			p.ring.Pop(len(slice))
			if p.observer != nil {
				p.observer.ObserveSend(len(slice))
			}
			spin = constants.SpinBudget
			continue
		}
		if p.stopping.Load() {
			// Stop only once the ring has drained; bytes released
			// before Stop must reach the wire.
			if p.ring.Peek() == nil {
				return
			}
			continue
		}
		if spin--; spin <= 0 {
			spin = constants.SpinBudget
			runtime.Gosched()
		}
	}
}

// Stop asks the loop to exit after draining and waits for it. It returns
// the send error that terminated the loop early, if any.
func (p *Progress) Stop() error {
	p.stopping.Store(true)
	<-p.done
	if cerr := p.send.Close(); cerr != nil && p.err == nil {
		p.err = cerr
	}
	return p.err
}

// Failed reports whether the loop already died on a send error, without
// blocking.
func (p *Progress) Failed() bool {
	select {
	case <-p.done:
		return p.err != nil
	default:
		return false
	}
}
