// Package interfaces provides internal interface definitions for go-immortal.
// These are separate from the public interfaces to avoid circular imports
// between the main package and internal packages.
package interfaces

// Handler receives application upcalls from the dispatch loop. HandleRPC is
// invoked synchronously on the dispatch thread, in strict arrival order; it
// may issue outbound RPCs through the runtime but must not block on inbound
// progress. args aliases the record payload and is only valid for the
// duration of the call.
type Handler interface {
	HandleRPC(methodID int32, args []byte)
}

// Logger interface for optional logging. A nil Logger is valid and silent.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer interface for metrics collection.
// Implementations must be thread-safe: the dispatch loop and the progress
// thread both report through it.
type Observer interface {
	ObserveRecord(payloadBytes int)
	ObserveRPCIn(argBytes int)
	ObserveBatch(count int32)
	ObserveRPCOut(bytes int)
	ObserveCheckpoint(bytes int)
	ObserveAttach()
	ObserveSend(bytes int)
}
