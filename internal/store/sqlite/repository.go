// Package sqlite persists classification snapshots in a SQLite database so a
// published snapshot survives restarts.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/rate"
	"github.com/ppiankov/tariffscope/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when no persisted snapshot matches
var ErrNotFound = errors.New("no persisted snapshot")

const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository saves and loads whole snapshots
type Repository struct {
	db *sqlx.DB
}

// Open connects to the database at path and applies pending migrations
func Open(ctx context.Context, path string) (*Repository, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m.Close would close db as well, which the repository keeps using.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Close releases the database
func (r *Repository) Close() error {
	return r.db.Close()
}

// Save writes snap in a single transaction. Saving a version that is already
// stored only marks it as the latest.
func (r *Repository) Save(ctx context.Context, snap *store.Snapshot) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC().Format(timestampLayout)
	var seq int64
	if err = tx.GetContext(ctx, &seq, `SELECT COALESCE(MAX(publish_seq), 0) + 1 FROM snapshots`); err != nil {
		return fmt.Errorf("failed to read publish sequence: %w", err)
	}
	var exists int
	if err = tx.GetContext(ctx, &exists, `SELECT COUNT(1) FROM snapshots WHERE version = ?`, snap.Version()); err != nil {
		return fmt.Errorf("failed to check snapshot: %w", err)
	}
	if exists > 0 {
		if _, err = tx.ExecContext(ctx, `UPDATE snapshots SET published_at = ?, publish_seq = ? WHERE version = ?`, now, seq, snap.Version()); err != nil {
			return fmt.Errorf("failed to touch snapshot: %w", err)
		}
		return tx.Commit()
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (version, built_at, published_at, publish_seq) VALUES (?, ?, ?, ?)`,
		snap.Version(), snap.BuiltAt().Format(timestampLayout), now, seq,
	); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	rows, err := toRows(snap)
	if err != nil {
		return err
	}
	if err = insertRows(ctx, tx, insertCode, rows.codes); err != nil {
		return err
	}
	if err = insertRows(ctx, tx, insertGeneral, rows.general); err != nil {
		return err
	}
	if err = insertRows(ctx, tx, insertPreferential, rows.preferential); err != nil {
		return err
	}
	if err = insertRows(ctx, tx, insertRemedy, rows.remedies); err != nil {
		return err
	}
	if err = insertRows(ctx, tx, insertConcession, rows.concessions); err != nil {
		return err
	}
	if err = insertRows(ctx, tx, insertNote, rows.notes); err != nil {
		return err
	}
	if err = insertRows(ctx, tx, insertDeadLetter, rows.deadLetters); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	slog.Info("snapshot persisted", "version", snap.Version(), "codes", len(rows.codes))
	return nil
}

func insertRows[T any](ctx context.Context, tx *sqlx.Tx, query string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	return nil
}

// LoadLatest restores the most recently saved snapshot
func (r *Repository) LoadLatest(ctx context.Context) (*store.Snapshot, error) {
	var version string
	err := r.db.GetContext(ctx, &version, `SELECT version FROM snapshots ORDER BY publish_seq DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest snapshot: %w", err)
	}
	return r.Load(ctx, version)
}

// Load restores a snapshot by version and verifies its digest
func (r *Repository) Load(ctx context.Context, version string) (*store.Snapshot, error) {
	var builtAt string
	err := r.db.GetContext(ctx, &builtAt, `SELECT built_at FROM snapshots WHERE version = ?`, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", version, err)
	}
	built, err := time.Parse(timestampLayout, builtAt)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s has invalid built_at: %w", version, err)
	}

	var rows snapshotRows
	queries := []struct {
		dest  any
		query string
	}{
		{&rows.codes, selectCodes},
		{&rows.general, selectGeneral},
		{&rows.preferential, selectPreferential},
		{&rows.remedies, selectRemedies},
		{&rows.concessions, selectConcessions},
		{&rows.notes, selectNotes},
		{&rows.deadLetters, selectDeadLetters},
	}
	for _, q := range queries {
		if err := r.db.SelectContext(ctx, q.dest, q.query, version); err != nil {
			return nil, fmt.Errorf("failed to load snapshot %s: %w", version, err)
		}
	}

	data, err := rows.toData()
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", version, err)
	}
	snap, err := store.NewSnapshot(data, built)
	if err != nil {
		return nil, err
	}
	if snap.Version() != version {
		return nil, fmt.Errorf("snapshot %s failed digest check (content hashes to %s)", version, snap.Version())
	}
	return snap, nil
}

func encodeExpression(e rate.Expression) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode rate expression: %w", err)
	}
	return string(b), nil
}

func decodeExpression(s string) (rate.Expression, error) {
	var e rate.Expression
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return rate.Expression{}, fmt.Errorf("failed to decode rate expression: %w", err)
	}
	return e, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(model.DateLayout)
}

func formatOptionalDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func parseOptionalDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := model.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
