package versions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"cv-adapter/internal/shared/util"
	"cv-adapter/resume/model"
)

const (
	contentFile  = "content.json"
	mirrorAuthor = "cv-adapter"
	mirrorEmail  = "versions@cv-adapter.local"
)

// GitMirror commits every snapshot as content.json into one git repository per document under
// baseDir.
type GitMirror struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewGitMirror(baseDir string) *GitMirror {
	return &GitMirror{baseDir: baseDir, locks: make(map[string]*sync.Mutex)}
}

// Commit writes snap's content and commits it. The message carries the version and label.
func (m *GitMirror) Commit(snap Snapshot) (string, error) {
	lock := m.documentLock(snap.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := m.open(snap.DocumentID)
	if err != nil {
		return "", err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(snap.Content, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), contentFile), append(payload, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return "", fmt.Errorf("git add: %w", err)
	}
	when := snap.CreatedAt
	if when.IsZero() {
		when = time.Now()
	}
	hash, err := worktree.Commit(commitMessage(snap), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            &object.Signature{Name: mirrorAuthor, Email: mirrorEmail, When: when},
	})
	if err != nil {
		return "", fmt.Errorf("commit snapshot: %w", err)
	}
	return hash.String(), nil
}

// Head returns the content and message of the latest commit for a document.
func (m *GitMirror) Head(documentID string) (model.CV, string, error) {
	lock := m.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(m.repoPath(documentID))
	if err != nil {
		return model.CV{}, "", fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		return model.CV{}, "", fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return model.CV{}, "", fmt.Errorf("load commit: %w", err)
	}
	file, err := commit.File(contentFile)
	if err != nil {
		return model.CV{}, "", fmt.Errorf("load %s: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return model.CV{}, "", fmt.Errorf("open %s: %w", contentFile, err)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return model.CV{}, "", fmt.Errorf("read %s: %w", contentFile, err)
	}
	var cv model.CV
	if err := json.Unmarshal(raw, &cv); err != nil {
		return model.CV{}, "", fmt.Errorf("decode %s: %w", contentFile, err)
	}
	return cv, commit.Message, nil
}

// Count returns the number of commits mirrored for a document.
func (m *GitMirror) Count(documentID string) (int, error) {
	lock := m.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(m.repoPath(documentID))
	if err != nil {
		return 0, fmt.Errorf("open repo: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		return 0, fmt.Errorf("git log: %w", err)
	}
	n := 0
	err = iter.ForEach(func(*object.Commit) error {
		n++
		return nil
	})
	return n, err
}

func (m *GitMirror) open(documentID string) (*git.Repository, error) {
	path := m.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (m *GitMirror) repoPath(documentID string) string {
	return filepath.Join(m.baseDir, util.PathKey(documentID))
}

func (m *GitMirror) documentLock(documentID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.locks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[documentID] = lock
	}
	return lock
}

func commitMessage(s Snapshot) string {
	msg := fmt.Sprintf("v%d %s", s.Version, s.ChangeType)
	if s.Label != "" {
		msg += ": " + s.Label
	}
	return msg
}
