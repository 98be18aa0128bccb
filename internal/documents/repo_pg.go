package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"cv-adapter/resume/model"
)

// PGRepo implements DocumentsRepo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const selectColumns = `id, user_id, name, content, content_version, pending_review, source_version, optimize_status, created_at, updated_at`

// Create inserts a new document.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	content, err := json.Marshal(doc.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	status := doc.OptimizeStatus
	if status == "" {
		status = OptimizeIdle
	}
	_, err = r.DB.ExecContext(ctx, `
INSERT INTO documents (id, user_id, name, content, content_version, pending_review, optimize_status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, $7)`,
		doc.ID, doc.UserID, doc.Name, content, doc.ContentVersion, status, doc.CreatedAt,
	)
	return err
}

// GetByID returns a document by ID for a user.
func (r *PGRepo) GetByID(ctx context.Context, userID, documentID string) (Document, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT `+selectColumns+`
FROM documents
WHERE id = $1 AND user_id = $2
LIMIT 1`, documentID, userID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// ListByUser returns documents for a user, newest first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM documents
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateContent replaces the document content.
func (r *PGRepo) UpdateContent(ctx context.Context, userID, documentID string, content model.CV) error {
	payload, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	return r.execOne(ctx, `
UPDATE documents SET content = $1, updated_at = NOW()
WHERE id = $2 AND user_id = $3`, payload, documentID, userID)
}

// SetReviewState records the pending-review flag and source version.
func (r *PGRepo) SetReviewState(ctx context.Context, userID, documentID string, pending bool, sourceVersion *int) error {
	var source sql.NullInt64
	if sourceVersion != nil {
		source = sql.NullInt64{Int64: int64(*sourceVersion), Valid: true}
	}
	return r.execOne(ctx, `
UPDATE documents SET pending_review = $1, source_version = $2, updated_at = NOW()
WHERE id = $3 AND user_id = $4`, pending, source, documentID, userID)
}

// AcquireOptimize marks the document in progress with a conditional update.
func (r *PGRepo) AcquireOptimize(ctx context.Context, userID, documentID string) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE documents SET optimize_status = $1, updated_at = NOW()
WHERE id = $2 AND user_id = $3 AND optimize_status <> $1`, OptimizeInProgress, documentID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, userID, documentID); err != nil {
		return err
	}
	return ErrOptimizeInProgress
}

// ReleaseOptimize sets the marker to status.
func (r *PGRepo) ReleaseOptimize(ctx context.Context, userID, documentID, status string) error {
	return r.execOne(ctx, `
UPDATE documents SET optimize_status = $1, updated_at = NOW()
WHERE id = $2 AND user_id = $3`, status, documentID, userID)
}

func (r *PGRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (Document, error) {
	var doc Document
	var content []byte
	var source sql.NullInt64
	var status sql.NullString
	if err := s.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.Name,
		&content,
		&doc.ContentVersion,
		&doc.PendingReview,
		&source,
		&status,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		return Document{}, err
	}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &doc.Content); err != nil {
			return Document{}, fmt.Errorf("decode content: %w", err)
		}
	}
	if source.Valid {
		v := int(source.Int64)
		doc.SourceVersion = &v
	}
	doc.OptimizeStatus = OptimizeIdle
	if status.Valid && status.String != "" {
		doc.OptimizeStatus = status.String
	}
	return doc, nil
}

var _ DocumentsRepo = (*PGRepo)(nil)
