//go:build !linux || !uring

package engine

import "net"

// newSender falls back to the plain socket path; the io_uring sender is
// available on Linux builds with the uring tag.
func newSender(up net.Conn, useUring bool) (sender, error) {
	return &socketSender{conn: up}, nil
}
