//go:build !linux

package netio

import "net"

// tuneLoopback disables Nagle where the portable API allows it. The Linux
// build applies the full loopback fast-path option set.
func tuneLoopback(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
