package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hivelink/internal/infrastructure/database"
)

// Repository defines directory persistence.
type Repository interface {
	// SaveNetwork inserts or updates a network.
	SaveNetwork(ctx context.Context, n *Network) error

	// GetNetwork returns ErrNetworkNotFound if the id does not exist.
	GetNetwork(ctx context.Context, id int64) (*Network, error)

	// DeleteNetwork removes a network and its devices, returning the ids
	// of the devices removed.
	DeleteNetwork(ctx context.Context, id int64) ([]string, error)

	// SaveDeviceType inserts or updates a device type.
	SaveDeviceType(ctx context.Context, t *DeviceType) error

	// GetDeviceType returns ErrDeviceTypeNotFound if the id does not exist.
	GetDeviceType(ctx context.Context, id int64) (*DeviceType, error)

	// DeleteDeviceType removes a device type and its devices, returning
	// the ids of the devices removed.
	DeleteDeviceType(ctx context.Context, id int64) ([]string, error)

	// SaveDevice inserts or updates a device. Its network, and its type
	// when set, must exist.
	SaveDevice(ctx context.Context, d *Device) error

	// GetDevice returns ErrDeviceNotFound if the id does not exist.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// DeleteDevice returns ErrDeviceNotFound if the id does not exist.
	DeleteDevice(ctx context.Context, id string) error

	// ListDevicesByNetwork returns the devices of a network ordered by id.
	ListDevicesByNetwork(ctx context.Context, networkID int64) ([]Device, error)

	// ListDevicesByType returns the devices of a device type ordered by id.
	ListDevicesByType(ctx context.Context, deviceTypeID int64) ([]Device, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveNetwork inserts or updates a network.
func (r *SQLiteRepository) SaveNetwork(ctx context.Context, n *Network) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO networks (id, name, description, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description`
	if _, err := r.db.ExecContext(ctx, query, n.ID, n.Name, n.Description, n.CreatedAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("saving network: %w", err)
	}
	return nil
}

// GetNetwork retrieves a network by id.
func (r *SQLiteRepository) GetNetwork(ctx context.Context, id int64) (*Network, error) {
	var n Network
	var created string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM networks WHERE id = ?`, id,
	).Scan(&n.ID, &n.Name, &n.Description, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNetworkNotFound
		}
		return nil, fmt.Errorf("querying network: %w", err)
	}
	n.CreatedAt = parseTime(created)
	return &n, nil
}

// DeleteNetwork removes a network and returns its device ids.
func (r *SQLiteRepository) DeleteNetwork(ctx context.Context, id int64) ([]string, error) {
	var devices []string
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		if devices, err = deviceIDs(ctx, tx, `SELECT id FROM devices WHERE network_id = ? ORDER BY id`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE network_id = ?`, id); err != nil {
			return fmt.Errorf("deleting network devices: %w", err)
		}
		return deleteOne(ctx, tx, `DELETE FROM networks WHERE id = ?`, id, ErrNetworkNotFound)
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// SaveDeviceType inserts or updates a device type.
func (r *SQLiteRepository) SaveDeviceType(ctx context.Context, t *DeviceType) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO device_types (id, name, description, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description`
	if _, err := r.db.ExecContext(ctx, query, t.ID, t.Name, t.Description, t.CreatedAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("saving device type: %w", err)
	}
	return nil
}

// GetDeviceType retrieves a device type by id.
func (r *SQLiteRepository) GetDeviceType(ctx context.Context, id int64) (*DeviceType, error) {
	var t DeviceType
	var created string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM device_types WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Description, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceTypeNotFound
		}
		return nil, fmt.Errorf("querying device type: %w", err)
	}
	t.CreatedAt = parseTime(created)
	return &t, nil
}

// DeleteDeviceType removes a device type and returns its device ids.
func (r *SQLiteRepository) DeleteDeviceType(ctx context.Context, id int64) ([]string, error) {
	var devices []string
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		if devices, err = deviceIDs(ctx, tx, `SELECT id FROM devices WHERE device_type_id = ? ORDER BY id`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE device_type_id = ?`, id); err != nil {
			return fmt.Errorf("deleting device type devices: %w", err)
		}
		return deleteOne(ctx, tx, `DELETE FROM device_types WHERE id = ?`, id, ErrDeviceTypeNotFound)
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// SaveDevice inserts or updates a device.
func (r *SQLiteRepository) SaveDevice(ctx context.Context, d *Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, err := r.GetNetwork(ctx, d.NetworkID); err != nil {
		return err
	}
	if d.DeviceTypeID != 0 {
		if _, err := r.GetDeviceType(ctx, d.DeviceTypeID); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	query := `
		INSERT INTO devices (id, name, network_id, device_type_id, blocked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			network_id = excluded.network_id,
			device_type_id = excluded.device_type_id,
			blocked = excluded.blocked,
			updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.Name, d.NetworkID, nullableID(d.DeviceTypeID), boolToInt(d.Blocked),
		d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving device: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by id.
func (r *SQLiteRepository) GetDevice(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, network_id, device_type_id, blocked, created_at, updated_at
		FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// DeleteDevice removes a device by id.
func (r *SQLiteRepository) DeleteDevice(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ListDevicesByNetwork returns a network's devices.
func (r *SQLiteRepository) ListDevicesByNetwork(ctx context.Context, networkID int64) ([]Device, error) {
	return r.queryDevices(ctx, `
		SELECT id, name, network_id, device_type_id, blocked, created_at, updated_at
		FROM devices WHERE network_id = ? ORDER BY id`, networkID)
}

// ListDevicesByType returns a device type's devices.
func (r *SQLiteRepository) ListDevicesByType(ctx context.Context, deviceTypeID int64) ([]Device, error) {
	return r.queryDevices(ctx, `
		SELECT id, name, network_id, device_type_id, blocked, created_at, updated_at
		FROM devices WHERE device_type_id = ? ORDER BY id`, deviceTypeID)
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var d Device
	var typeID sql.NullInt64
	var blocked int
	var created, updated string
	if err := s.Scan(&d.ID, &d.Name, &d.NetworkID, &typeID, &blocked, &created, &updated); err != nil {
		return nil, err
	}
	d.DeviceTypeID = typeID.Int64
	d.Blocked = blocked != 0
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

func deviceIDs(ctx context.Context, tx *sql.Tx, query string, arg any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing device ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning device id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func deleteOne(ctx context.Context, tx *sql.Tx, query string, id int64, notFound error) error {
	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
