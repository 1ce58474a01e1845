package engine

import "sync"

// Payload buffers are short-lived -- one per inbound log record -- so the
// dispatch loop draws them from size-bucketed pools instead of allocating on
// every record. Records larger than the top bucket are rare enough to
// allocate directly.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.

// Buffer size thresholds
const (
	size4k  = 4 * 1024
	size64k = 64 * 1024
	size1m  = 1024 * 1024
)

var payloadPool = struct {
	pool4k  sync.Pool
	pool64k sync.Pool
	pool1m  sync.Pool
}{
	pool4k:  sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool64k: sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool1m:  sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// GetBuffer returns a buffer of exactly the requested length, pooled when
// the size fits a bucket. Caller must call PutBuffer when done.
func GetBuffer(size int) []byte {
	switch {
	case size <= size4k:
		return (*payloadPool.pool4k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*payloadPool.pool64k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*payloadPool.pool1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutBuffer returns a buffer to its pool. Oversized direct allocations are
// dropped for the collector.
func PutBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size4k:
		payloadPool.pool4k.Put(&buf)
	case size64k:
		payloadPool.pool64k.Put(&buf)
	case size1m:
		payloadPool.pool1m.Put(&buf)
	}
}
