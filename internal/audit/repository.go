package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command origins.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// Command outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeFailed   = "failed"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Entry is one audited command.
type Entry struct {
	ID      string `json:"id"`
	Command string `json:"command"`

	// DeviceKey is the configured device id the command was addressed to.
	// DeviceID is the derived identity, empty if the device had not been
	// polled successfully yet.
	DeviceKey string `json:"device_key"`
	DeviceID  string `json:"device_id,omitempty"`

	// CommandID is the caller's correlation id (MQTT message id or HTTP
	// request id).
	CommandID string    `json:"command_id,omitempty"`
	Source    string    `json:"source"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries List returns. Empty fields match anything.
type Filter struct {
	DeviceKey string
	Command   string
	Source    string
	Outcome   string
	Since     time.Time
	Limit     int // default 50, max 200
	Offset    int
}

// ListResult is one page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and queries audit entries.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository is the command_audit table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over an open connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Record inserts e. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.Command == "" || e.DeviceKey == "" {
		return fmt.Errorf("command and device key are required")
	}
	if e.Source == "" {
		return fmt.Errorf("source is required")
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeAccepted
		if e.Error != "" {
			e.Outcome = OutcomeFailed
		}
	}
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (id, command, device_key, device_id, command_id, source, outcome, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Command, e.DeviceKey,
		nullableString(e.DeviceID), nullableString(e.CommandID),
		e.Source, e.Outcome, nullableString(e.Error),
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit // WHERE clause assembly from filter fields
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for _, c := range []struct{ column, value string }{
		{"device_key", filter.DeviceKey},
		{"command", filter.Command},
		{"source", filter.Source},
		{"outcome", filter.Outcome},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM command_audit " + where //nolint:gosec // WHERE built from fixed column names and placeholders
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from fixed column names and placeholders
		`SELECT id, command, device_key, device_id, command_id, source, outcome, error, created_at
		 FROM command_audit %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var deviceID, commandID, errText sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.Command, &e.DeviceKey, &deviceID, &commandID,
			&e.Source, &e.Outcome, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.DeviceID = deviceID.String
		e.CommandID = commandID.String
		e.Error = errText.String

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
