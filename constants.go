package immortal

import "github.com/ehrlich-b/go-immortal/internal/constants"

// Re-export constants for public API
const (
	DefaultBufferBytes = constants.DefaultBufferBytes
	MinBufferSlack     = constants.MinBufferSlack
	MaxRecordPayload   = constants.MaxRecordPayload
)
