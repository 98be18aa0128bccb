package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const selectColumns = `document_id, user_id, source_version, source, outputs, changes, created_at, updated_at`

// Save upserts the review state of a document.
func (r *PGRepo) Save(ctx context.Context, st State) error {
	source, outputs, changes, err := encodeState(st)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
INSERT INTO review_states (document_id, user_id, source_version, source, outputs, changes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (document_id) DO UPDATE SET
  user_id = EXCLUDED.user_id,
  source_version = EXCLUDED.source_version,
  source = EXCLUDED.source,
  outputs = EXCLUDED.outputs,
  changes = EXCLUDED.changes,
  created_at = EXCLUDED.created_at,
  updated_at = EXCLUDED.updated_at`,
		st.DocumentID, st.UserID, st.SourceVersion, source, outputs, changes, st.CreatedAt,
	)
	return err
}

func (r *PGRepo) Get(ctx context.Context, documentID string) (State, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT `+selectColumns+`
FROM review_states
WHERE document_id = $1`, documentID)
	return scanState(row)
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of fn.
func (r *PGRepo) Update(ctx context.Context, documentID string, fn func(st *State) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	st, err := scanState(tx.QueryRowContext(ctx, `
SELECT `+selectColumns+`
FROM review_states
WHERE document_id = $1
FOR UPDATE`, documentID))
	if err != nil {
		return err
	}
	if err := fn(&st); err != nil {
		return err
	}
	changes, err := json.Marshal(st.Changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE review_states SET changes = $1, updated_at = NOW()
WHERE document_id = $2`, changes, documentID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PGRepo) Delete(ctx context.Context, documentID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM review_states WHERE document_id = $1`, documentID)
	return err
}

func encodeState(st State) (source, outputs, changes []byte, err error) {
	if source, err = json.Marshal(st.Source); err != nil {
		return nil, nil, nil, fmt.Errorf("encode source: %w", err)
	}
	if outputs, err = json.Marshal(st.Outputs); err != nil {
		return nil, nil, nil, fmt.Errorf("encode outputs: %w", err)
	}
	if changes, err = json.Marshal(st.Changes); err != nil {
		return nil, nil, nil, fmt.Errorf("encode changes: %w", err)
	}
	return source, outputs, changes, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(s scanner) (State, error) {
	var st State
	var source, outputs, changes []byte
	if err := s.Scan(&st.DocumentID, &st.UserID, &st.SourceVersion, &source, &outputs, &changes, &st.CreatedAt, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, err
	}
	if err := json.Unmarshal(source, &st.Source); err != nil {
		return State{}, fmt.Errorf("decode source: %w", err)
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &st.Outputs); err != nil {
			return State{}, fmt.Errorf("decode outputs: %w", err)
		}
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &st.Changes); err != nil {
			return State{}, fmt.Errorf("decode changes: %w", err)
		}
	}
	return st, nil
}

var _ Repo = (*PGRepo)(nil)
