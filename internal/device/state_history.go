package device

import (
	"context"
	"time"
)

// State history source values.
const (
	StateHistorySourcePoll    = "poll"
	StateHistorySourceCommand = "command"
	StateHistorySourceRefresh = "refresh"
)

// StateHistoryEntry is one recorded state snapshot. It gives a local audit
// trail of power and sensor changes even when InfluxDB is disabled.
type StateHistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	State     State     `json:"state"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves device state history.
// Implementations must be safe for concurrent use and store UTC times.
type StateHistoryRepository interface {
	// RecordStateChange stores a snapshot. An empty source means poll.
	RecordStateChange(ctx context.Context, deviceID string, state State, source string) error

	// GetHistory returns up to limit entries, newest first.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)

	// PruneHistory deletes entries older than olderThan and reports how many.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
