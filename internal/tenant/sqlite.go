package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/ThatMovieGuyOriginal/helparr-sub000/migrations"
)

const sqliteTimeLayout = "2006-01-02T15:04:05Z"

type sqliteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at path and runs pending migrations.
func NewSQLite(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tenant: open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tenant: set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tenant: run migrations: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Load(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT movies, secret, backup_feed, backup_at, backup_size FROM tenants WHERE id = ?`, id)

	var rec Record
	var backupFeed sql.NullString
	var backupAt sql.NullString
	var backupSize sql.NullInt64
	if err := row.Scan(&rec.Movies, &rec.Secret, &backupFeed, &backupAt, &backupSize); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("tenant: sqlite select: %w", err)
	}
	rec.ID = id
	if backupFeed.Valid && backupFeed.String != "" {
		backup := &Backup{Feed: backupFeed.String, Size: int(backupSize.Int64)}
		if backupAt.Valid {
			backup.GeneratedAt, _ = time.Parse(sqliteTimeLayout, backupAt.String)
		}
		rec.Backup = backup
	}
	return rec, nil
}

func (s *sqliteStore) Save(ctx context.Context, id string, patch Patch) error {
	rec, err := s.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		rec = Record{ID: id}
	}
	rec = applyPatch(rec, patch)

	var backupFeed, backupAt string
	var backupSize int
	if rec.Backup != nil {
		backupFeed = rec.Backup.Feed
		backupAt = rec.Backup.GeneratedAt.UTC().Format(sqliteTimeLayout)
		backupSize = rec.Backup.Size
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, movies, secret, backup_feed, backup_at, backup_size)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   movies = excluded.movies,
		   secret = excluded.secret,
		   backup_feed = excluded.backup_feed,
		   backup_at = excluded.backup_at,
		   backup_size = excluded.backup_size`,
		id, rec.Movies, rec.Secret, backupFeed, backupAt, backupSize,
	)
	if err != nil {
		return fmt.Errorf("tenant: sqlite upsert: %w", err)
	}
	return nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("tenant: sqlite ping: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close(context.Context) error {
	return s.db.Close()
}
