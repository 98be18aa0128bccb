package versions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cv-adapter/internal/documents"
	"cv-adapter/resume/model"
)

type recordingClearer struct {
	mu      sync.Mutex
	cleared []string
}

func (r *recordingClearer) Clear(_ context.Context, _, documentID string) error {
	r.mu.Lock()
	r.cleared = append(r.cleared, documentID)
	r.mu.Unlock()
	return nil
}

func newService(t *testing.T, mirror Mirror) (*Service, *documents.MemoryRepo, *recordingClearer) {
	t.Helper()
	docs := documents.NewMemoryRepo()
	now := time.Now().UTC()
	doc := documents.Document{
		ID: "doc-1", UserID: "u1", Name: "CV",
		Content:        model.CV{Header: model.Header{FullName: "Ada", CurrentTitle: "Engineer"}},
		ContentVersion: 1, OptimizeStatus: documents.OptimizeIdle, CreatedAt: now, UpdatedAt: now,
	}
	if err := docs.Create(context.Background(), doc); err != nil {
		t.Fatalf("create doc: %v", err)
	}
	clearer := &recordingClearer{}
	return &Service{Repo: NewMemoryRepo(docs), Documents: docs, Review: clearer, Mirror: mirror}, docs, clearer
}

func setTitle(t *testing.T, docs *documents.MemoryRepo, title string) {
	t.Helper()
	err := docs.Update(context.Background(), "u1", "doc-1", func(d *documents.Document) error {
		d.Content.Header.CurrentTitle = title
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestCreateAdvancesContentVersion(t *testing.T) {
	svc, docs, _ := newService(t, nil)
	ctx := context.Background()

	first, err := svc.Create(ctx, "u1", "doc-1", NewSnapshot{Label: "Before adaptation: Go", ChangeType: ChangeAdaptation})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	setTitle(t, docs, "Go Engineer")
	second, err := svc.Create(ctx, "u1", "doc-1", NewSnapshot{Label: "manual", ChangeType: ChangeManual})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Version != 1 || second.Version != 2 {
		t.Fatalf("versions = %d, %d", first.Version, second.Version)
	}
	d, _ := docs.GetByID(ctx, "u1", "doc-1")
	if d.ContentVersion != 3 {
		t.Fatalf("content version = %d", d.ContentVersion)
	}

	list, err := svc.List(ctx, "u1", "doc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Version != 2 || list[1].Version != 1 {
		t.Fatalf("list order = %+v", list)
	}

	got, err := svc.Get(ctx, "u1", "doc-1", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content.Header.CurrentTitle != "Engineer" || got.Label != "Before adaptation: Go" {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc, _, _ := newService(t, nil)
	tests := []struct {
		name string
		user string
		ns   NewSnapshot
		want error
	}{
		{"unknown change type", "u1", NewSnapshot{ChangeType: "bogus"}, ErrInvalidInput},
		{"other user", "u2", NewSnapshot{ChangeType: ChangeManual}, documents.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.user, "doc-1", tt.ns); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if _, err := svc.Get(context.Background(), "u1", "doc-1", 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentCreateNeverReusesVersions(t *testing.T) {
	svc, _, _ := newService(t, nil)
	const n = 20
	var wg sync.WaitGroup
	versions := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := svc.Create(context.Background(), "u1", "doc-1", NewSnapshot{ChangeType: ChangeManual})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			versions <- snap.Version
		}()
	}
	wg.Wait()
	close(versions)
	seen := map[int]bool{}
	for v := range versions {
		if seen[v] {
			t.Fatalf("version %d allocated twice", v)
		}
		seen[v] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d versions", len(seen))
	}
}

func TestRestore(t *testing.T) {
	svc, docs, clearer := newService(t, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "u1", "doc-1", NewSnapshot{Label: "Before adaptation: Go", ChangeType: ChangeAdaptation}); err != nil {
		t.Fatalf("create: %v", err)
	}
	setTitle(t, docs, "Senior Go Engineer")

	snap, err := svc.Restore(ctx, "u1", "doc-1", 1)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if snap.Version != 2 || snap.Label != "Restore from v1" || snap.ChangeType != ChangeRestore {
		t.Fatalf("implicit snapshot = %+v", snap)
	}
	if snap.Content.Header.CurrentTitle != "Senior Go Engineer" {
		t.Fatalf("implicit snapshot should hold pre-restore content, got %q", snap.Content.Header.CurrentTitle)
	}
	if snap.SourceVersion == nil || *snap.SourceVersion != 1 {
		t.Fatalf("source version = %v", snap.SourceVersion)
	}

	d, _ := docs.GetByID(ctx, "u1", "doc-1")
	target, _ := svc.Get(ctx, "u1", "doc-1", 1)
	if !model.Equal(d.Content, target.Content) {
		t.Fatalf("content %+v != version 1 %+v", d.Content, target.Content)
	}
	if len(clearer.cleared) != 1 {
		t.Fatalf("review not cleared")
	}

	if _, err := svc.Restore(ctx, "u1", "doc-1", 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateMirrorsSnapshots(t *testing.T) {
	mirror := NewGitMirror(t.TempDir())
	svc, docs, _ := newService(t, mirror)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "u1", "doc-1", NewSnapshot{Label: "first", ChangeType: ChangeManual}); err != nil {
		t.Fatalf("create: %v", err)
	}
	setTitle(t, docs, "Go Engineer")
	if _, err := svc.Create(ctx, "u1", "doc-1", NewSnapshot{Label: "second", ChangeType: ChangeManual}); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := mirror.Count("doc-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("commits = %d", n)
	}
	cv, msg, err := mirror.Head("doc-1")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if cv.Header.CurrentTitle != "Go Engineer" || strings.TrimSpace(msg) != "v2 manual: second" {
		t.Fatalf("head = %q %q", cv.Header.CurrentTitle, msg)
	}
}

func TestGitMirrorKeepsUnsafeIDsInsideBaseDir(t *testing.T) {
	base := t.TempDir()
	mirror := NewGitMirror(base)
	if _, err := mirror.Commit(Snapshot{DocumentID: "../escape", Version: 1, ChangeType: ChangeManual}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(base), "escape")); !os.IsNotExist(err) {
		t.Fatalf("mirror wrote outside its base dir: %v", err)
	}
	if n, err := mirror.Count("../escape"); err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}
}
