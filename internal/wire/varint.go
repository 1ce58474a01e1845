package wire

import "errors"

// Zig-zag varint encoding of 32-bit signed integers, compatible with the
// protobuf/Avro family: the value is mapped to unsigned via
// (v << 1) XOR (v >> 31), then emitted in 7-bit little-endian groups with a
// continuation bit high on all but the last byte. Encodings are 1-5 bytes.

// MaxVarintLen is the largest encoding of an int32.
const MaxVarintLen = 5

// ErrInvalidVarint is returned when a varint would need a sixth byte or the
// input runs out mid-encoding.
var ErrInvalidVarint = errors.New("wire: invalid zig-zag varint")

// ZigZagSize returns the encoded byte count of v without encoding it.
func ZigZagSize(v int32) int {
	zz := uint32((v << 1) ^ (v >> 31))
	n := 1
	for zz >= 0x80 {
		zz >>= 7
		n++
	}
	return n
}

// PutZigZag encodes v at the start of buf and returns the bytes written.
// Panics if buf is shorter than ZigZagSize(v); callers size their
// reservations with the Size functions first.
func PutZigZag(buf []byte, v int32) int {
	zz := uint32((v << 1) ^ (v >> 31))
	i := 0
	for zz >= 0x80 {
		buf[i] = byte(zz) | 0x80
		zz >>= 7
		i++
	}
	buf[i] = byte(zz)
	return i + 1
}

// ReadZigZag decodes a varint from the start of buf, returning the value and
// the bytes consumed. Fails with ErrInvalidVarint if the encoding needs more
// than MaxVarintLen bytes or buf ends mid-encoding.
func ReadZigZag(buf []byte) (int32, int, error) {
	var zz uint32
	var shift uint
	for i := 0; i < MaxVarintLen; i++ {
		if i >= len(buf) {
			return 0, 0, ErrInvalidVarint
		}
		b := buf[i]
		zz |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			v := int32(zz>>1) ^ -int32(zz&1)
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrInvalidVarint
}
