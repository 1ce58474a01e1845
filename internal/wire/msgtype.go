// Package wire implements the Coordinator wire format: zig-zag varints,
// the 24-byte log-record header, and the length-prefixed message envelopes
// carried inside log records and on the outbound stream.
package wire

import "fmt"

// MsgType is the one-byte message tag at the start of every envelope body.
// The integer assignments are wire-fixed; they must match the Coordinator.
type MsgType byte

const (
	MsgRPC                           MsgType = 0
	MsgAttachTo                      MsgType = 1
	MsgTakeCheckpoint                MsgType = 2
	MsgRPCBatch                      MsgType = 5
	MsgCheckpoint                    MsgType = 8
	MsgInitialMessage                MsgType = 9
	MsgUpgradeTakeCheckpoint         MsgType = 10
	MsgTakeBecomingPrimaryCheckpoint MsgType = 11
	MsgUpgradeService                MsgType = 12
)

// Known reports whether t is one of the enumerated message types.
func (t MsgType) Known() bool {
	switch t {
	case MsgRPC, MsgAttachTo, MsgTakeCheckpoint, MsgRPCBatch, MsgCheckpoint,
		MsgInitialMessage, MsgUpgradeTakeCheckpoint,
		MsgTakeBecomingPrimaryCheckpoint, MsgUpgradeService:
		return true
	}
	return false
}

func (t MsgType) String() string {
	switch t {
	case MsgRPC:
		return "RPC"
	case MsgAttachTo:
		return "AttachTo"
	case MsgTakeCheckpoint:
		return "TakeCheckpoint"
	case MsgRPCBatch:
		return "RPCBatch"
	case MsgCheckpoint:
		return "Checkpoint"
	case MsgInitialMessage:
		return "InitialMessage"
	case MsgUpgradeTakeCheckpoint:
		return "UpgradeTakeCheckpoint"
	case MsgTakeBecomingPrimaryCheckpoint:
		return "TakeBecomingPrimaryCheckpoint"
	case MsgUpgradeService:
		return "UpgradeService"
	}
	return fmt.Sprintf("MsgType(%d)", byte(t))
}
