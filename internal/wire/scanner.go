package wire

// Scanner iterates the envelopes packed inside a log-record payload (or any
// concatenated envelope stream). Usage follows bufio.Scanner:
//
//	sc := wire.NewScanner(payload)
//	for sc.Scan() {
//	    handle(sc.Type(), sc.Body())
//	}
//	if err := sc.Err(); err != nil { ... }
//
// Scan fails with ErrUnexpectedEOF on truncation and ErrUnknownTag for a tag
// outside the enumerated set. RPCBatch is yielded like any other envelope;
// batch expansion happens at the consumer.
type Scanner struct {
	buf  []byte
	off  int
	tag  MsgType
	body []byte
	err  error
}

// NewScanner returns a Scanner over buf. The Scanner keeps a reference to
// buf; bodies it yields alias it.
func NewScanner(buf []byte) *Scanner {
	return &Scanner{buf: buf}
}

// Scan advances to the next envelope. It returns false at the end of the
// buffer or on error; exactly len(buf) bytes are consumed on a clean finish.
func (s *Scanner) Scan() bool {
	if s.err != nil || s.off >= len(s.buf) {
		return false
	}
	size, n, err := ReadZigZag(s.buf[s.off:])
	if err != nil {
		s.err = err
		return false
	}
	s.off += n
	if size < 1 || s.off+int(size) > len(s.buf) {
		s.err = ErrUnexpectedEOF
		return false
	}
	s.tag = MsgType(s.buf[s.off])
	if !s.tag.Known() {
		s.err = ErrUnknownTag
		return false
	}
	s.body = s.buf[s.off+1 : s.off+int(size)]
	s.off += int(size)
	return true
}

// Type returns the tag of the envelope from the last successful Scan.
func (s *Scanner) Type() MsgType { return s.tag }

// Body returns the body (tag excluded) of the envelope from the last
// successful Scan. The slice aliases the scanned buffer.
func (s *Scanner) Body() []byte { return s.body }

// Offset returns the byte offset of the scan cursor, for diagnostics.
func (s *Scanner) Offset() int { return s.off }

// Err returns the first error encountered, or nil on a clean finish.
func (s *Scanner) Err() error { return s.err }

// RPC is a decoded inbound-form RPC body.
type RPC struct {
	Reserved   byte
	MethodID   int32
	FireForget bool
	Args       []byte
}

// ParseInboundRPC decodes an inbound-form RPC body: one reserved byte, a
// varint method id, one fire_and_forget byte, and argument bytes to the end
// of the body. Args aliases body.
func ParseInboundRPC(body []byte) (RPC, error) {
	if len(body) < 1 {
		return RPC{}, ErrUnexpectedEOF
	}
	reserved := body[0]
	method, n, err := ReadZigZag(body[1:])
	if err != nil {
		return RPC{}, err
	}
	rest := body[1+n:]
	if len(rest) < 1 {
		return RPC{}, ErrUnexpectedEOF
	}
	return RPC{
		Reserved:   reserved,
		MethodID:   method,
		FireForget: rest[0] != 0,
		Args:       rest[1:],
	}, nil
}

// ReadBatchCount decodes the leading varint message count of an RPCBatch
// body and returns the remaining bytes, which are the inner envelopes.
func ReadBatchCount(body []byte) (int32, []byte, error) {
	count, n, err := ReadZigZag(body)
	if err != nil {
		return 0, nil, err
	}
	if count < 0 {
		return 0, nil, ErrUnexpectedEOF
	}
	return count, body[n:], nil
}
