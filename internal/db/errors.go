package db

import (
	"errors"
	"fmt"
	"time"
)

// ErrStorageUnavailable reports that the persistence layer could not take
// the write inside its bounded timeout. Callers treat it as recoverable.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ValidationError rejects a sample before it reaches storage. The stored
// state is untouched when this is returned.
type ValidationError struct {
	HostID string
	TS     time.Time
	Reason string
}

func (e *ValidationError) Error() string {
	if e.HostID == "" {
		return "invalid sample: " + e.Reason
	}
	return fmt.Sprintf("invalid sample for %s at %s: %s", e.HostID, e.TS.Format(time.RFC3339), e.Reason)
}
