package versions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cv-adapter/internal/documents"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create snapshots the document under SELECT ... FOR UPDATE and bumps content_version in the
// same transaction.
func (r *PGRepo) Create(ctx context.Context, userID, documentID string, ns NewSnapshot) (Snapshot, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var content []byte
	var version int
	err = tx.QueryRowContext(ctx, `
SELECT content, content_version
FROM documents
WHERE id = $1 AND user_id = $2
FOR UPDATE`, documentID, userID).Scan(&content, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, documents.ErrNotFound
		}
		return Snapshot{}, err
	}

	snap := Snapshot{
		DocumentID:    documentID,
		Version:       version,
		Label:         ns.Label,
		ChangeType:    ns.ChangeType,
		SourceVersion: copyInt(ns.SourceVersion),
		CreatedAt:     time.Now().UTC(),
	}
	if err := json.Unmarshal(content, &snap.Content); err != nil {
		return Snapshot{}, fmt.Errorf("decode content: %w", err)
	}

	var source sql.NullInt64
	if ns.SourceVersion != nil {
		source = sql.NullInt64{Int64: int64(*ns.SourceVersion), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO document_versions (document_id, version, label, change_type, source_version, content, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		documentID, version, ns.Label, ns.ChangeType, source, content, snap.CreatedAt,
	); err != nil {
		return Snapshot{}, err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE documents SET content_version = content_version + 1, updated_at = NOW()
WHERE id = $1`, documentID); err != nil {
		return Snapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (r *PGRepo) List(ctx context.Context, userID, documentID string) ([]Snapshot, error) {
	if err := r.checkOwner(ctx, userID, documentID); err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT version, label, change_type, source_version, created_at
FROM document_versions
WHERE document_id = $1
ORDER BY version DESC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		s := Snapshot{DocumentID: documentID}
		var source sql.NullInt64
		if err := rows.Scan(&s.Version, &s.Label, &s.ChangeType, &source, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.SourceVersion = fromNull(source)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PGRepo) Get(ctx context.Context, userID, documentID string, version int) (Snapshot, error) {
	if err := r.checkOwner(ctx, userID, documentID); err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{DocumentID: documentID}
	var source sql.NullInt64
	var content []byte
	err := r.DB.QueryRowContext(ctx, `
SELECT version, label, change_type, source_version, content, created_at
FROM document_versions
WHERE document_id = $1 AND version = $2`, documentID, version).
		Scan(&s.Version, &s.Label, &s.ChangeType, &source, &content, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	s.SourceVersion = fromNull(source)
	if err := json.Unmarshal(content, &s.Content); err != nil {
		return Snapshot{}, fmt.Errorf("decode content: %w", err)
	}
	return s, nil
}

func (r *PGRepo) checkOwner(ctx context.Context, userID, documentID string) error {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = $1 AND user_id = $2`, documentID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return documents.ErrNotFound
	}
	return err
}

func fromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

var _ Repo = (*PGRepo)(nil)
