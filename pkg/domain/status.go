package domain

import (
	"context"
	"time"
)

// Status describes the lifecycle stage of an import attempt.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal reports whether no further transition follows s within an attempt.
func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

// ImportStatus is the single current status record kept per terminology.
// An empty ActualVersion or ErrorMessage stands for "no value".
type ImportStatus struct {
	Terminology      string    `json:"terminology"`
	RequestedVersion string    `json:"requested_version"`
	ActualVersion    string    `json:"actual_version,omitempty"`
	Status           Status    `json:"status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StatusStore persists one ImportStatus per terminology name.
//
// Upsert is last-write-wins per key. When the written record has an empty
// ActualVersion the stored actual version is preserved; ErrorMessage is
// always overwritten. Implementations stamp UpdatedAt.
type StatusStore interface {
	Get(ctx context.Context, terminology string) (ImportStatus, bool, error)
	Upsert(ctx context.Context, status ImportStatus) error
	// List returns every record ordered by terminology name.
	List(ctx context.Context) ([]ImportStatus, error)
	Close() error
}

// MergeStatus applies the upsert rules of StatusStore to an existing record.
// Backends without a native conditional update share it.
func MergeStatus(prior ImportStatus, exists bool, next ImportStatus, now time.Time) ImportStatus {
	merged := next
	if merged.ActualVersion == "" && exists {
		merged.ActualVersion = prior.ActualVersion
	}
	merged.UpdatedAt = now
	return merged
}
