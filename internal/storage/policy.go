package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tazhate/coursesync/internal/domain"
)

// === Policies ===

// GetCurrentPolicy returns the saved policy or the defaults
func (s *Storage) GetCurrentPolicy(ctx context.Context, userID int64) (domain.Policy, error) {
	raw, err := s.policyColumn(ctx, userID, "current_policy")
	if err != nil {
		return domain.Policy{}, err
	}
	if raw == "" {
		return domain.DefaultPolicy(), nil
	}
	var p domain.Policy
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	p.Normalize()
	return p, nil
}

func (s *Storage) SetCurrentPolicy(ctx context.Context, userID int64, p domain.Policy) error {
	return s.setPolicyColumn(ctx, userID, "current_policy", p)
}

// GetLastAppliedPolicy returns nil, nil before the first successful run
func (s *Storage) GetLastAppliedPolicy(ctx context.Context, userID int64) (*domain.Policy, error) {
	raw, err := s.policyColumn(ctx, userID, "last_applied")
	if err != nil || raw == "" {
		return nil, err
	}
	var p domain.Policy
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode last applied policy: %w", err)
	}
	return &p, nil
}

func (s *Storage) SetLastAppliedPolicy(ctx context.Context, userID int64, p domain.Policy) error {
	return s.setPolicyColumn(ctx, userID, "last_applied", p)
}

// column is one of the two fixed names above, never user input
func (s *Storage) policyColumn(ctx context.Context, userID int64, column string) (string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT `+column+` FROM policies WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return raw, err
}

func (s *Storage) setPolicyColumn(ctx context.Context, userID int64, column string, p domain.Policy) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO policies (user_id, `+column+`, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET `+column+` = excluded.`+column+`, updated_at = CURRENT_TIMESTAMP`,
		userID, string(data),
	)
	return err
}

// === Sync history ===

func (s *Storage) CreateSyncRun(ctx context.Context, r *domain.SyncRun) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (user_id, status, started_at, completed_at, report, error) VALUES (?, ?, ?, ?, ?, ?)`,
		r.UserID, r.Status, r.StartedAt, r.CompletedAt, r.Report, r.Error,
	)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// ListSyncRuns returns the most recent runs first
func (s *Storage) ListSyncRuns(ctx context.Context, userID int64, limit int) ([]*domain.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, status, started_at, completed_at, report, error
		FROM sync_runs WHERE user_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.SyncRun
	for rows.Next() {
		r := &domain.SyncRun{}
		if err := rows.Scan(&r.ID, &r.UserID, &r.Status, &r.StartedAt, &r.CompletedAt, &r.Report, &r.Error); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
