package gatestate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the sqlite-backed gate state store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the gate state database.
// It enables WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// getValue reads a single key; ok is false when the key is absent.
func (s *SQLiteStore) getValue(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM gate_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

// setValue upserts a single key. Each write is its own statement, so
// writes are atomic per-key with last-write-wins semantics.
func (s *SQLiteStore) setValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gate_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// deleteValue removes a key; deleting an absent key is a no-op.
func (s *SQLiteStore) deleteValue(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM gate_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ConversionRecord returns the persisted attribution payload, or nil when
// it has not been delivered yet.
func (s *SQLiteStore) ConversionRecord(ctx context.Context) (ConversionRecord, error) {
	raw, ok, err := s.getValue(ctx, keyConversionRecord)
	if err != nil || !ok {
		return nil, err
	}

	var record ConversionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode conversion record: %w", err)
	}
	return record, nil
}

// SetConversionRecord persists the attribution payload verbatim.
func (s *SQLiteStore) SetConversionRecord(ctx context.Context, record ConversionRecord) error {
	if record == nil {
		return ErrInvalidRecord
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode conversion record: %w", err)
	}
	return s.setValue(ctx, keyConversionRecord, string(raw))
}

func (s *SQLiteStore) PushToken(ctx context.Context) (string, error) {
	v, _, err := s.getValue(ctx, keyPushToken)
	return v, err
}

func (s *SQLiteStore) SetPushToken(ctx context.Context, token string) error {
	return s.setValue(ctx, keyPushToken, token)
}

func (s *SQLiteStore) AttributionID(ctx context.Context) (string, error) {
	v, _, err := s.getValue(ctx, keyAttributionID)
	return v, err
}

func (s *SQLiteStore) SetAttributionID(ctx context.Context, id string) error {
	return s.setValue(ctx, keyAttributionID, id)
}

// LastNotificationDenial returns the recorded denial timestamp, or nil
// when the prompt was never denied.
func (s *SQLiteStore) LastNotificationDenial(ctx context.Context) (*time.Time, error) {
	raw, ok, err := s.getValue(ctx, keyNotificationDenied)
	if err != nil || !ok {
		return nil, err
	}

	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parse denial timestamp: %w", err)
	}
	return &at, nil
}

func (s *SQLiteStore) SetLastNotificationDenial(ctx context.Context, at time.Time) error {
	return s.setValue(ctx, keyNotificationDenied, at.UTC().Format(time.RFC3339))
}

// GateConfig returns the cached config, or nil when no successful fetch
// has been cached. URL and expiry live under separate keys; a partial
// write leaves the config absent rather than corrupt.
func (s *SQLiteStore) GateConfig(ctx context.Context) (*GateConfig, error) {
	url, ok, err := s.getValue(ctx, keyConfigURL)
	if err != nil || !ok {
		return nil, err
	}

	rawExpires, ok, err := s.getValue(ctx, keyConfigExpires)
	if err != nil || !ok {
		return nil, err
	}

	expires, err := strconv.ParseInt(rawExpires, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse config expiry: %w", err)
	}

	return &GateConfig{URL: url, ExpiresAt: time.Unix(expires, 0).UTC()}, nil
}

func (s *SQLiteStore) SetGateConfig(ctx context.Context, cfg GateConfig) error {
	if err := s.setValue(ctx, keyConfigURL, cfg.URL); err != nil {
		return err
	}
	return s.setValue(ctx, keyConfigExpires,
		strconv.FormatInt(cfg.ExpiresAt.Unix(), 10))
}

// ConfigRequestsDisabled reads the circuit-breaker flag; absent means false.
func (s *SQLiteStore) ConfigRequestsDisabled(ctx context.Context) (bool, error) {
	raw, ok, err := s.getValue(ctx, keyConfigDisabled)
	if err != nil || !ok {
		return false, err
	}
	return raw == "true", nil
}

func (s *SQLiteStore) SetConfigRequestsDisabled(ctx context.Context) error {
	return s.setValue(ctx, keyConfigDisabled, "true")
}

func (s *SQLiteStore) ClearConfigRequestsDisabled(ctx context.Context) error {
	return s.deleteValue(ctx, keyConfigDisabled)
}

// RecordLaunch appends a row to the launch log.
func (s *SQLiteStore) RecordLaunch(ctx context.Context, launch Launch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO launches (id, destination, overlay_url, routed_at)
		VALUES (?, ?, ?, ?)
	`, launch.ID, launch.Destination, launch.OverlayURL,
		launch.RoutedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record launch: %w", err)
	}
	return nil
}

// ListLaunches returns the most recent launch-log rows, newest first.
func (s *SQLiteStore) ListLaunches(ctx context.Context, limit int) ([]Launch, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, destination, overlay_url, routed_at
		FROM launches
		ORDER BY routed_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list launches: %w", err)
	}
	defer rows.Close()

	var launches []Launch
	for rows.Next() {
		var l Launch
		var routedAt string
		if err := rows.Scan(&l.ID, &l.Destination, &l.OverlayURL, &routedAt); err != nil {
			return nil, fmt.Errorf("scan launch: %w", err)
		}
		l.RoutedAt, err = time.Parse(time.RFC3339, routedAt)
		if err != nil {
			return nil, fmt.Errorf("parse launch timestamp: %w", err)
		}
		launches = append(launches, l)
	}
	return launches, rows.Err()
}
