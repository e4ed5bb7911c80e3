package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists IPMI devices.
type Repository interface {
	// GetByID returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List returns all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Upsert inserts the device, or refreshes its descriptive fields (name,
	// connection, manufacturer, model, firmware) if it exists. State, health
	// and created_at of an existing row are left alone.
	Upsert(ctx context.Context, device *Device) error

	// Delete returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateState replaces the stored state snapshot.
	UpdateState(ctx context.Context, id string, state State, at time.Time) error

	// UpdateHealth records reachability and the time it was observed.
	UpdateHealth(ctx context.Context, id string, status HealthStatus, lastSeen time.Time) error
}

// SQLiteRepository implements Repository on the devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, slug, host, port, alias, manufacturer, model,
	firmware_version, state, state_updated_at, health_status, health_last_seen,
	created_at, updated_at`

// GetByID retrieves a device by identity.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Upsert inserts or refreshes a device. CreatedAt and UpdatedAt on the
// passed device are set from the stored row.
func (r *SQLiteRepository) Upsert(ctx context.Context, d *Device) error {
	state := d.State
	if state == nil {
		state = State{}
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}
	health := d.HealthStatus
	if health == "" {
		health = HealthStatusUnknown
	}

	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, slug, host, port, alias, manufacturer, model,
			firmware_version, state, state_updated_at, health_status, health_last_seen,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			host = excluded.host,
			port = excluded.port,
			alias = excluded.alias,
			manufacturer = excluded.manufacturer,
			model = excluded.model,
			firmware_version = excluded.firmware_version,
			updated_at = excluded.updated_at`,
		d.ID, d.Name, d.Slug, d.Host, d.Port, d.Alias,
		nullableString(d.Manufacturer), nullableString(d.Model), nullableString(d.FirmwareVersion),
		string(stateJSON), nullableTime(d.StateUpdatedAt), string(health), nullableTime(d.HealthLastSeen),
		ts, ts,
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}

	var createdAt string
	if err := r.db.QueryRowContext(ctx, "SELECT created_at FROM devices WHERE id = ?", d.ID).Scan(&createdAt); err != nil {
		return fmt.Errorf("reading created_at: %w", err)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by us
	d.UpdatedAt = now.Truncate(time.Second)
	return nil
}

// Delete removes a device and, through the foreign key, its history.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// UpdateState replaces the state snapshot.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State, at time.Time) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}
	ts := at.UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET state = ?, state_updated_at = ?, updated_at = ? WHERE id = ?",
		string(stateJSON), ts, ts, id,
	)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}
	return requireRow(result)
}

// UpdateHealth sets health_status and health_last_seen.
func (r *SQLiteRepository) UpdateHealth(ctx context.Context, id string, status HealthStatus, lastSeen time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET health_status = ?, health_last_seen = ? WHERE id = ?",
		string(status), lastSeen.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating device health: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var manufacturer, model, firmware sql.NullString
	var stateUpdatedAt, healthLastSeen sql.NullString
	var stateJSON, health, createdAt, updatedAt string

	if err := row.Scan(
		&d.ID, &d.Name, &d.Slug, &d.Host, &d.Port, &d.Alias,
		&manufacturer, &model, &firmware,
		&stateJSON, &stateUpdatedAt, &health, &healthLastSeen,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	d.Manufacturer = manufacturer.String
	d.Model = model.String
	d.FirmwareVersion = firmware.String
	d.HealthStatus = HealthStatus(health)

	if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}
	d.StateUpdatedAt = parseNullableTime(stateUpdatedAt)
	d.HealthLastSeen = parseNullableTime(healthLastSeen)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by us
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // written by us

	return &d, nil
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
