package pipeline

import (
	"fmt"
	"time"
)

// V2ConnectionError is the single error shape every pipeline failure
// is normalized to before it reaches the handler layer, carrying
// enough context to log, retry-classify, and feed back into the
// quota control loop.
type V2ConnectionError struct {
	ConnectionID  string
	Position      int    // index within the chain where the failure occurred
	ModuleType    string // "pipeline" | "hooks" | "route" | "transport"
	ModuleID      string
	Code          string
	StatusCode    int
	OriginalError error
	TimestampIso  string
}

func (e *V2ConnectionError) Error() string {
	return fmt.Sprintf("pipeline: connection %s failed at %s[%d] (%s): %v",
		e.ConnectionID, e.ModuleType, e.Position, e.ModuleID, e.OriginalError)
}

func (e *V2ConnectionError) Unwrap() error { return e.OriginalError }

func newConnectionError(connID, moduleType, moduleID string, position int, err error) *V2ConnectionError {
	return &V2ConnectionError{
		ConnectionID:  connID,
		Position:      position,
		ModuleType:    moduleType,
		ModuleID:      moduleID,
		OriginalError: err,
		TimestampIso:  time.Now().UTC().Format(time.RFC3339),
	}
}
