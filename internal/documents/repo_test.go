package documents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"cv-adapter/resume/model"
)

func TestMemoryRepoOptimizeMarker(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	svc := &Service{Repo: repo}
	doc, err := svc.Create(ctx, "u1", "cv", model.CV{Header: model.Header{FullName: "Ada"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.AcquireOptimize(ctx, "u1", doc.ID); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := svc.AcquireOptimize(ctx, "u1", doc.ID); !errors.Is(err, ErrOptimizeInProgress) {
		t.Fatalf("expected ErrOptimizeInProgress, got %v", err)
	}
	svc.ReleaseOptimize("u1", doc.ID, true)
	got, _ := repo.GetByID(ctx, "u1", doc.ID)
	if got.OptimizeStatus != OptimizeFailed {
		t.Fatalf("status = %q", got.OptimizeStatus)
	}
	if err := svc.AcquireOptimize(ctx, "u1", doc.ID); err != nil {
		t.Fatalf("acquire after failed run: %v", err)
	}
	if err := svc.AcquireOptimize(ctx, "u2", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestMemoryRepoReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	v := 3
	doc := Document{ID: "d1", UserID: "u", Content: model.CV{Header: model.Header{FullName: "Ada"}, Languages: []model.Language{{Name: "French", Level: "B2"}}}}
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.SetReviewState(ctx, "u", "d1", true, &v); err != nil {
		t.Fatalf("set review: %v", err)
	}
	v = 9

	got, _ := repo.GetByID(ctx, "u", "d1")
	got.Content.Languages[0].Level = "C2"
	again, _ := repo.GetByID(ctx, "u", "d1")
	if again.Content.Languages[0].Level != "B2" {
		t.Fatalf("stored content mutated through returned copy")
	}
	if again.SourceVersion == nil || *again.SourceVersion != 3 || !again.PendingReview {
		t.Fatalf("unexpected review state %+v", again)
	}
}

func TestPGRepoAcquireOptimize(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := &PGRepo{DB: db}

	mock.ExpectExec("UPDATE documents SET optimize_status = \\$1").
		WithArgs(OptimizeInProgress, "d1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.AcquireOptimize(context.Background(), "u1", "d1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE documents SET optimize_status = \\$1").
		WithArgs(OptimizeInProgress, "d1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, user_id, name, content").
		WithArgs("d1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "content", "content_version", "pending_review", "source_version", "optimize_status", "created_at", "updated_at"}).
			AddRow("d1", "u1", "cv", []byte(`{"header":{"full_name":"Ada"}}`), 2, false, nil, OptimizeInProgress, now, now))
	if err := repo.AcquireOptimize(context.Background(), "u1", "d1"); !errors.Is(err, ErrOptimizeInProgress) {
		t.Fatalf("expected ErrOptimizeInProgress, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery("SELECT id, user_id, name, content").
		WithArgs("missing", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := (&PGRepo{DB: db}).GetByID(context.Background(), "u1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
