package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tazhate/coursesync/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// both destination passes write concurrently; sqlite takes one writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			feed_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS collections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			destination TEXT NOT NULL,
			name TEXT NOT NULL,
			external_id TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, destination, name),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS synced_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			destination TEXT NOT NULL,
			collection_id TEXT NOT NULL,
			stable_key TEXT NOT NULL,
			external_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			course_code TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			start_time DATETIME,
			end_time DATETIME,
			all_day INTEGER DEFAULT 0,
			synced_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, destination, collection_id, stable_key),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_synced_records_owner ON synced_records(user_id, destination)`,
		`CREATE TABLE IF NOT EXISTS policies (
			user_id INTEGER PRIMARY KEY,
			current_policy TEXT NOT NULL DEFAULT '',
			last_applied TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL,
			report TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_user ON sync_runs(user_id, started_at)`,
		// Telegram notifications
		`ALTER TABLE users ADD COLUMN telegram_chat_id INTEGER NOT NULL DEFAULT 0`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// === Users ===

const userColumns = `id, name, feed_url, telegram_chat_id, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(&u.ID, &u.Name, &u.FeedURL, &u.TelegramChatID, &u.CreatedAt)
	return u, err
}

func (s *Storage) CreateUser(ctx context.Context, u *domain.User) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, feed_url, telegram_chat_id) VALUES (?, ?, ?)`,
		u.Name, u.FeedURL, u.TelegramChatID,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	u.ID = id
	u.CreatedAt = time.Now()
	return nil
}

// GetUser returns nil, nil when the user does not exist
func (s *Storage) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUserByName matches the name case-insensitively
func (s *Storage) GetUserByName(ctx context.Context, name string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(name) = LOWER(?)`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all users
func (s *Storage) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Storage) UpdateUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, feed_url = ?, telegram_chat_id = ? WHERE id = ?`,
		u.Name, u.FeedURL, u.TelegramChatID, u.ID,
	)
	return err
}

// === Collections ===

const collectionColumns = `id, user_id, destination, name, external_id, created_at`

func scanCollection(row interface{ Scan(...any) error }) (*domain.Collection, error) {
	c := &domain.Collection{}
	err := row.Scan(&c.ID, &c.OwnerID, &c.Destination, &c.Name, &c.ExternalID, &c.CreatedAt)
	return c, err
}

// FindCollection returns nil, nil when no collection has that name
func (s *Storage) FindCollection(ctx context.Context, ownerID int64, d domain.Destination, name string) (*domain.Collection, error) {
	c, err := scanCollection(s.db.QueryRowContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE user_id = ? AND destination = ? AND name = ?`,
		ownerID, d, name,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *Storage) CreateCollection(ctx context.Context, c *domain.Collection) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (user_id, destination, name, external_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.OwnerID, c.Destination, c.Name, c.ExternalID, c.CreatedAt,
	)
	if err != nil {
		return err
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// SetCollection registers name for the owner, replacing the external id of an existing one
func (s *Storage) SetCollection(ctx context.Context, c *domain.Collection) error {
	existing, err := s.FindCollection(ctx, c.OwnerID, c.Destination, c.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		return s.CreateCollection(ctx, c)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE collections SET external_id = ? WHERE id = ?`, c.ExternalID, existing.ID); err != nil {
		return err
	}
	c.ID = existing.ID
	c.CreatedAt = existing.CreatedAt
	return nil
}

func (s *Storage) ListCollections(ctx context.Context, ownerID int64, d domain.Destination) ([]domain.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE user_id = ? AND destination = ? ORDER BY id`,
		ownerID, d,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Storage) DeleteCollection(ctx context.Context, c *domain.Collection) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, c.ID)
	if err != nil {
		return err
	}
	return affected(res)
}

// === Synced records ===

// FindExisting returns every record of the owner in destination d, oldest first
func (s *Storage) FindExisting(ctx context.Context, ownerID int64, d domain.Destination) ([]domain.SyncedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, destination, collection_id, stable_key, external_id, fingerprint, course_code,
			title, description, location, start_time, end_time, all_day, synced_at
		FROM synced_records WHERE user_id = ? AND destination = ? ORDER BY id`,
		ownerID, d,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SyncedRecord
	for rows.Next() {
		var r domain.SyncedRecord
		var start, end sql.NullTime
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Destination, &r.CollectionID, &r.StableKey, &r.ExternalID,
			&r.Fingerprint, &r.CourseCode, &r.Title, &r.Description, &r.Location, &start, &end, &r.AllDay, &r.SyncedAt); err != nil {
			return nil, err
		}
		r.Start = start.Time
		r.End = end.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Storage) CreateRecord(ctx context.Context, r *domain.SyncedRecord) error {
	if r.SyncedAt.IsZero() {
		r.SyncedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO synced_records (user_id, destination, collection_id, stable_key, external_id, fingerprint, course_code,
			title, description, location, start_time, end_time, all_day, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.OwnerID, r.Destination, r.CollectionID, r.StableKey, r.ExternalID, r.Fingerprint, r.CourseCode,
		r.Title, r.Description, r.Location, nullTime(r.Start), nullTime(r.End), r.AllDay, r.SyncedAt,
	)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (s *Storage) UpdateRecord(ctx context.Context, r *domain.SyncedRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE synced_records SET external_id = ?, fingerprint = ?, course_code = ?, title = ?, description = ?,
			location = ?, start_time = ?, end_time = ?, all_day = ?, synced_at = ?
		WHERE id = ?`,
		r.ExternalID, r.Fingerprint, r.CourseCode, r.Title, r.Description,
		r.Location, nullTime(r.Start), nullTime(r.End), r.AllDay, r.SyncedAt, r.ID,
	)
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *Storage) DeleteRecord(ctx context.Context, r *domain.SyncedRecord) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM synced_records WHERE id = ?`, r.ID)
	if err != nil {
		return err
	}
	return affected(res)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
