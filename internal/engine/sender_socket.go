package engine

import (
	"net"

	"github.com/ehrlich-b/go-immortal/internal/netio"
)

// socketSender is the portable send path: one write loop per peeked slice.
type socketSender struct {
	conn net.Conn
}

func (s *socketSender) Send(buf []byte) error {
	return netio.SendAll(s.conn, buf)
}

func (s *socketSender) Close() error { return nil }
