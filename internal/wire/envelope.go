package wire

import (
	"encoding/binary"
	"errors"
)

// Envelope layout, both directions: varint size || tag byte || body, where
// size counts the tag byte plus the body but not the varint itself. Outbound
// client traffic is nothing but envelopes back to back; log headers are only
// ever produced by the Coordinator.

var (
	// ErrUnexpectedEOF is returned when an envelope or RPC body is truncated.
	ErrUnexpectedEOF = errors.New("wire: truncated envelope")

	// ErrUnknownTag is returned for a tag byte outside the enumerated set.
	ErrUnknownTag = errors.New("wire: unknown message tag")
)

// RPCKindCall is the rpc_or_return byte for a plain call. The return-value
// variant is unused by this runtime but part of the wire format.
const (
	RPCKindCall   byte = 0
	RPCKindReturn byte = 1
)

// EnvelopeSize returns the full encoded size of an envelope with the given
// body length, including the size varint and tag byte.
func EnvelopeSize(bodyLen int) int {
	return ZigZagSize(int32(1+bodyLen)) + 1 + bodyLen
}

// PutEnvelopeHeader writes the size varint and tag for an envelope whose
// body the caller lays down afterwards, returning the header bytes written.
func PutEnvelopeHeader(buf []byte, tag MsgType, bodyLen int) int {
	n := PutZigZag(buf, int32(1+bodyLen))
	buf[n] = byte(tag)
	return n + 1
}

// PutEnvelope writes a complete envelope with the given tag and body into
// buf, returning the bytes written.
func PutEnvelope(buf []byte, tag MsgType, body []byte) int {
	n := PutZigZag(buf, int32(1+len(body)))
	buf[n] = byte(tag)
	n++
	n += copy(buf[n:], body)
	return n
}

// OutgoingRPCSize returns the encoded size of a complete outbound-form RPC
// envelope: varint size, RPC tag, varint destination length, destination
// bytes, rpc_or_return byte, varint method id, fire_and_forget byte, args.
func OutgoingRPCSize(destLen int, methodID int32, argsLen int) int {
	body := ZigZagSize(int32(destLen)) + destLen + 1 + ZigZagSize(methodID) + 1 + argsLen
	return EnvelopeSize(body)
}

// PutOutgoingRPC encodes a complete outbound-form RPC envelope into buf,
// returning the bytes written. buf must hold OutgoingRPCSize bytes.
func PutOutgoingRPC(buf []byte, dest string, rpcKind byte, methodID int32, fireForget bool, args []byte) int {
	body := ZigZagSize(int32(len(dest))) + len(dest) + 1 + ZigZagSize(methodID) + 1 + len(args)
	n := PutZigZag(buf, int32(1+body))
	buf[n] = byte(MsgRPC)
	n++
	n += PutZigZag(buf[n:], int32(len(dest)))
	n += copy(buf[n:], dest)
	buf[n] = rpcKind
	n++
	n += PutZigZag(buf[n:], methodID)
	buf[n] = boolByte(fireForget)
	n++
	n += copy(buf[n:], args)
	return n
}

// IncomingRPCSize returns the encoded size of a complete inbound-form RPC
// envelope: varint size, RPC tag, reserved byte, varint method id,
// fire_and_forget byte, args. This is the form the Coordinator delivers and
// the form wrapped inside an InitialMessage.
func IncomingRPCSize(methodID int32, argsLen int) int {
	return EnvelopeSize(1 + ZigZagSize(methodID) + 1 + argsLen)
}

// PutIncomingRPC encodes a complete inbound-form RPC envelope into buf.
func PutIncomingRPC(buf []byte, methodID int32, fireForget bool, args []byte) int {
	body := 1 + ZigZagSize(methodID) + 1 + len(args)
	n := PutZigZag(buf, int32(1+body))
	buf[n] = byte(MsgRPC)
	n++
	buf[n] = 0 // reserved
	n++
	n += PutZigZag(buf[n:], methodID)
	buf[n] = boolByte(fireForget)
	n++
	n += copy(buf[n:], args)
	return n
}

// InitialMessageSize returns the encoded size of an InitialMessage envelope
// whose body is a complete inbound-form RPC envelope.
func InitialMessageSize(methodID int32, argsLen int) int {
	return EnvelopeSize(IncomingRPCSize(methodID, argsLen))
}

// PutInitialMessage encodes the InitialMessage envelope sent during the
// startup handshake. The body follows the convention of being itself a
// complete inbound-form RPC envelope targeting the application's startup
// method.
func PutInitialMessage(buf []byte, methodID int32, fireForget bool, args []byte) int {
	inner := IncomingRPCSize(methodID, len(args))
	n := PutZigZag(buf, int32(1+inner))
	buf[n] = byte(MsgInitialMessage)
	n++
	n += PutIncomingRPC(buf[n:], methodID, fireForget, args)
	return n
}

// AttachToSize returns the encoded size of an AttachTo envelope.
func AttachToSize(destLen int) int {
	return EnvelopeSize(destLen)
}

// PutAttachTo encodes an AttachTo envelope whose body is the destination
// name bytes.
func PutAttachTo(buf []byte, dest string) int {
	n := PutZigZag(buf, int32(1+len(dest)))
	buf[n] = byte(MsgAttachTo)
	n++
	n += copy(buf[n:], dest)
	return n
}

// CheckpointSize returns the total bytes PutCheckpoint writes for a payload
// of the given length. The envelope's declared size covers only the tag and
// the 8-byte payload length; the payload itself rides immediately after, and
// the Coordinator consumes it via the length field.
func CheckpointSize(payloadLen int) int {
	return EnvelopeSize(8) + payloadLen
}

// PutCheckpoint encodes a Checkpoint envelope followed by the checkpoint
// payload bytes.
func PutCheckpoint(buf []byte, payload []byte) int {
	n := PutZigZag(buf, int32(1+8))
	buf[n] = byte(MsgCheckpoint)
	n++
	binary.LittleEndian.PutUint64(buf[n:], uint64(len(payload)))
	n += 8
	n += copy(buf[n:], payload)
	return n
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
