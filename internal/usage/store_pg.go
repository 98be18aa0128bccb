package usage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type pgStore struct {
	DB    *sql.DB
	limit int
}

// NewPGStore constructs a Postgres-backed usage store granting limit credits per window.
func NewPGStore(db *sql.DB, limit int) *pgStore {
	return &pgStore{DB: db, limit: limit}
}

func (s *pgStore) EnsurePeriod(ctx context.Context, userID string) (Usage, error) {
	return s.update(ctx, userID, func(u *Usage) error { return nil })
}

func (s *pgStore) Consume(ctx context.Context, userID string, n int) (Usage, error) {
	return s.update(ctx, userID, func(u *Usage) error {
		if n <= 0 {
			return nil
		}
		if u.Used+n > u.Limit {
			return ErrLimitReached
		}
		u.Used += n
		return nil
	})
}

func (s *pgStore) Release(ctx context.Context, userID string, n int) (Usage, error) {
	return s.update(ctx, userID, func(u *Usage) error {
		u.Used = max(u.Used-n, 0)
		return nil
	})
}

func (s *pgStore) Reset(ctx context.Context, userID string) (Usage, error) {
	return s.update(ctx, userID, func(u *Usage) error {
		u.Used = 0
		u.ResetsAt = time.Now().UTC().Add(windowLength)
		return nil
	})
}

// update locks the user's row, applies fn and writes the result back.
func (s *pgStore) update(ctx context.Context, userID string, fn func(u *Usage) error) (Usage, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Usage{}, err
	}
	defer tx.Rollback()

	u, err := s.lockAndEnsure(ctx, tx, userID)
	if err != nil {
		return Usage{}, err
	}
	before := u
	if err := fn(&u); err != nil {
		return Usage{}, err
	}
	if u != before {
		if _, err := tx.ExecContext(ctx, `UPDATE usage SET used = $1, resets_at = $2 WHERE user_id = $3`, u.Used, u.ResetsAt, userID); err != nil {
			return Usage{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Usage{}, err
	}
	return u, nil
}

func (s *pgStore) lockAndEnsure(ctx context.Context, tx *sql.Tx, userID string) (Usage, error) {
	var u Usage
	row := tx.QueryRowContext(ctx, `
SELECT plan, limit_amount, used, resets_at FROM usage WHERE user_id = $1 FOR UPDATE`, userID)
	err := row.Scan(&u.Plan, &u.Limit, &u.Used, &u.ResetsAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			u = defaultUsage(s.limit)
			if _, err = tx.ExecContext(ctx, `
INSERT INTO usage (user_id, plan, limit_amount, used, resets_at) VALUES ($1, $2, $3, $4, $5)`,
				userID, u.Plan, u.Limit, u.Used, u.ResetsAt); err != nil {
				return Usage{}, err
			}
			return u, nil
		}
		return Usage{}, err
	}

	now := time.Now().UTC()
	if !now.Before(u.ResetsAt) {
		u.Used = 0
		u.ResetsAt = now.Add(windowLength)
		if _, err = tx.ExecContext(ctx, `UPDATE usage SET used = $1, resets_at = $2 WHERE user_id = $3`, u.Used, u.ResetsAt, userID); err != nil {
			return Usage{}, err
		}
	}
	return u, nil
}
