//go:build linux

package netio

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneLoopback enables the loopback fast-path options on a Coordinator
// stream: Nagle off (every released slice should hit the wire immediately)
// and quickack on (the dispatch loop is latency-bound on header reads).
// Failures are ignored; these are throughput hints, not correctness.
func tuneLoopback(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
		_ = unix.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	})
}
