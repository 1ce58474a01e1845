package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// HeaderSize is the fixed byte size of a log-record header.
const HeaderSize = 24

// ErrShortRead is returned when the inbound stream ends inside a header or a
// record payload.
var ErrShortRead = errors.New("wire: short read from coordinator stream")

// LogHeader is the 24-byte packed little-endian header the Coordinator
// prefixes to every log record:
//
//	struct log_hdr {
//	  int32_t commitID;
//	  int32_t totalSize;  // whole record, including this header
//	  int64_t checksum;   // per-byte running sum over the payload
//	  int64_t seqID;      // monotonic sequence number
//	};
type LogHeader struct {
	CommitID  int32
	TotalSize int32
	Checksum  int64
	SeqID     int64
}

// PayloadSize returns the byte count of the record payload following the
// header. Negative when TotalSize is malformed (< HeaderSize).
func (h *LogHeader) PayloadSize() int {
	return int(h.TotalSize) - HeaderSize
}

// MarshalBinary encodes the header little-endian regardless of host order.
func (h *LogHeader) MarshalBinary() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.CommitID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.TotalSize))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Checksum))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.SeqID))
	return buf
}

// UnmarshalBinary decodes a header from the first HeaderSize bytes of data.
func (h *LogHeader) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return ErrShortRead
	}
	h.CommitID = int32(binary.LittleEndian.Uint32(data[0:4]))
	h.TotalSize = int32(binary.LittleEndian.Uint32(data[4:8]))
	h.Checksum = int64(binary.LittleEndian.Uint64(data[8:16]))
	h.SeqID = int64(binary.LittleEndian.Uint64(data[16:24]))
	return nil
}

// ReadLogHeader reads exactly HeaderSize bytes from r and decodes them.
// A stream that ends early fails with ErrShortRead.
func ReadLogHeader(r io.Reader) (LogHeader, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return LogHeader{}, ErrShortRead
		}
		return LogHeader{}, err
	}
	var h LogHeader
	_ = h.UnmarshalBinary(buf[:])
	return h, nil
}

// Checksum computes the per-byte running sum the Coordinator carries in the
// header: each payload byte sign-extended and accumulated as a 32-bit signed
// sum. The runtime computes this for inbound records but does not enforce it.
func Checksum(payload []byte) int64 {
	var sum int32
	for _, b := range payload {
		sum += int32(int8(b))
	}
	return int64(sum)
}
