//go:build linux && uring

package engine

import (
	"fmt"
	"net"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

// uringSender submits one send SQE per peeked slice instead of a write
// syscall, saving the user/kernel copy setup on large drains. The progress
// thread is the only submitter and keeps one send in flight at a time, so a
// small 8-entry ring suffices.
type uringSender struct {
	ring *giouring.Ring
	fd   int
}

func newSender(up net.Conn, useUring bool) (sender, error) {
	if !useUring {
		return &socketSender{conn: up}, nil
	}
	tc, ok := up.(*net.TCPConn)
	if !ok {
		return &socketSender{conn: up}, nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("uring sender: %w", err)
	}
	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return nil, fmt.Errorf("uring sender: %w", err)
	}
	ring, err := giouring.CreateRing(8)
	if err != nil {
		return nil, fmt.Errorf("uring sender: create ring: %w", err)
	}
	return &uringSender{ring: ring, fd: fd}, nil
}

func (s *uringSender) Send(buf []byte) error {
	for len(buf) > 0 {
		sqe := s.ring.GetSQE()
		if sqe == nil {
			return fmt.Errorf("uring sender: submission queue full")
		}
		sqe.PrepareSend(s.fd, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)
		if _, err := s.ring.SubmitAndWait(1); err != nil {
			return fmt.Errorf("uring sender: submit: %w", err)
		}
		cqe, err := s.ring.WaitCQE()
		if err != nil {
			return fmt.Errorf("uring sender: wait: %w", err)
		}
		res := cqe.Res
		s.ring.CQESeen(cqe)
		if res < 0 {
			return fmt.Errorf("uring sender: send errno %d", -res)
		}
		buf = buf[res:]
	}
	return nil
}

func (s *uringSender) Close() error {
	s.ring.QueueExit()
	return nil
}
