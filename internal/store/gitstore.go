package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
)

// gcInterval defines minimum time between garbage collection runs.
const gcInterval = 5 * time.Minute

// GitStore keeps each key as a JSON file in a git working tree. Every write
// is committed as a single parentless commit so earlier token values do not
// survive in history, then force-pushed when a remote is configured.
type GitStore struct {
	mu       sync.Mutex
	repoDir  string
	remote   string
	username string
	password string
	lastGC   time.Time
}

// NewGitStore creates a store rooted at repoDir. remote may be empty for a local-only repository.
func NewGitStore(repoDir, remote, username, password string) *GitStore {
	return &GitStore{
		repoDir:  repoDir,
		remote:   strings.TrimSpace(remote),
		username: username,
		password: password,
	}
}

// EnsureRepository clones the remote, initializes an empty repository, or pulls an existing one.
func (s *GitStore) EnsureRepository() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repoDir == "" {
		return fmt.Errorf("git store: repository directory not configured")
	}
	gitDir := filepath.Join(s.repoDir, ".git")
	authMethod := s.gitAuth()

	if _, err := os.Stat(gitDir); errors.Is(err, fs.ErrNotExist) {
		if errMk := os.MkdirAll(s.repoDir, 0o700); errMk != nil {
			return fmt.Errorf("git store: create repo dir: %w", errMk)
		}
		if s.remote == "" {
			if _, errInit := git.PlainInit(s.repoDir, false); errInit != nil {
				return fmt.Errorf("git store: init repo: %w", errInit)
			}
			return nil
		}
		if _, errClone := git.PlainClone(s.repoDir, &git.CloneOptions{Auth: authMethod, URL: s.remote}); errClone != nil {
			if !errors.Is(errClone, transport.ErrEmptyRemoteRepository) {
				return fmt.Errorf("git store: clone remote: %w", errClone)
			}
			_ = os.RemoveAll(gitDir)
			repo, errInit := git.PlainInit(s.repoDir, false)
			if errInit != nil {
				return fmt.Errorf("git store: init empty repo: %w", errInit)
			}
			if _, errCreate := repo.CreateRemote(&config.RemoteConfig{
				Name: "origin",
				URLs: []string{s.remote},
			}); errCreate != nil && !errors.Is(errCreate, git.ErrRemoteExists) {
				return fmt.Errorf("git store: configure remote: %w", errCreate)
			}
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("git store: stat repo: %w", err)
	}

	if s.remote == "" {
		return nil
	}
	repo, errOpen := git.PlainOpen(s.repoDir)
	if errOpen != nil {
		return fmt.Errorf("git store: open repo: %w", errOpen)
	}
	worktree, errWorktree := repo.Worktree()
	if errWorktree != nil {
		return fmt.Errorf("git store: worktree: %w", errWorktree)
	}
	if errPull := worktree.Pull(&git.PullOptions{Auth: authMethod, RemoteName: "origin"}); errPull != nil {
		switch {
		case errors.Is(errPull, git.NoErrAlreadyUpToDate),
			errors.Is(errPull, git.ErrUnstagedChanges),
			errors.Is(errPull, git.ErrNonFastForwardUpdate):
			// local state wins
		case errors.Is(errPull, transport.ErrAuthenticationRequired),
			errors.Is(errPull, plumbing.ErrReferenceNotFound),
			errors.Is(errPull, transport.ErrEmptyRemoteRepository):
		default:
			return fmt.Errorf("git store: pull: %w", errPull)
		}
	}
	return nil
}

// Load reads the file for key from the working tree.
func (s *GitStore) Load(_ context.Context, key string) ([]byte, error) {
	rel, err := s.relPath(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.repoDir, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("git store: read %s: %w", key, err)
	}
	return data, nil
}

// Save writes the file for key and commits it.
func (s *GitStore) Save(_ context.Context, key string, value []byte) error {
	rel, err := s.relPath(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	full := filepath.Join(s.repoDir, rel)
	if err = os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("git store: create directory: %w", err)
	}
	if err = os.WriteFile(full, value, 0o600); err != nil {
		return fmt.Errorf("git store: write %s: %w", key, err)
	}
	return s.commitAndPushLocked("Update "+key, rel)
}

// Delete removes the file for key and commits the removal.
func (s *GitStore) Delete(_ context.Context, key string) error {
	rel, err := s.relPath(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = os.Remove(filepath.Join(s.repoDir, rel)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("git store: delete %s: %w", key, err)
	}
	return s.commitAndPushLocked("Delete "+key, rel)
}

// Close is a no-op.
func (s *GitStore) Close() error { return nil }

func (s *GitStore) relPath(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.FromSlash(cleaned) + ".json", nil
}

func (s *GitStore) gitAuth() transport.AuthMethod {
	if s.username == "" && s.password == "" {
		return nil
	}
	user := s.username
	if user == "" {
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: s.password}
}

func (s *GitStore) commitAndPushLocked(message string, relPaths ...string) error {
	repo, err := git.PlainOpen(s.repoDir)
	if err != nil {
		return fmt.Errorf("git store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	for _, rel := range relPaths {
		rel = filepath.ToSlash(rel)
		if _, err = worktree.Add(rel); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("git store: add %s: %w", rel, err)
			}
			if _, errRemove := worktree.Remove(rel); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
				return fmt.Errorf("git store: remove %s: %w", rel, errRemove)
			}
		}
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("git store: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	signature := &object.Signature{
		Name:  "portal",
		Email: "portal@local",
		When:  time.Now(),
	}
	commitHash, err := worktree.Commit(message, &git.CommitOptions{Author: signature})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return nil
		}
		return fmt.Errorf("git store: commit: %w", err)
	}
	headRef, errHead := repo.Head()
	if errHead != nil {
		if !errors.Is(errHead, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("git store: get head: %w", errHead)
		}
	} else if errRewrite := rewriteHeadAsSingleCommit(repo, headRef.Name(), commitHash, message, signature); errRewrite != nil {
		return errRewrite
	}
	s.maybeRunGC(repo)
	if s.remote == "" {
		return nil
	}
	if err = repo.Push(&git.PushOptions{Auth: s.gitAuth(), Force: true}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("git store: push: %w", err)
	}
	return nil
}

// rewriteHeadAsSingleCommit points branch at a parentless copy of commitHash.
func rewriteHeadAsSingleCommit(repo *git.Repository, branch plumbing.ReferenceName, commitHash plumbing.Hash, message string, signature *object.Signature) error {
	commitObj, err := repo.CommitObject(commitHash)
	if err != nil {
		return fmt.Errorf("git store: inspect head commit: %w", err)
	}
	squashed := &object.Commit{
		Author:       *signature,
		Committer:    *signature,
		Message:      message,
		TreeHash:     commitObj.TreeHash,
		ParentHashes: nil,
		Encoding:     commitObj.Encoding,
		ExtraHeaders: commitObj.ExtraHeaders,
	}
	mem := &plumbing.MemoryObject{}
	mem.SetType(plumbing.CommitObject)
	if err = squashed.Encode(mem); err != nil {
		return fmt.Errorf("git store: encode squashed commit: %w", err)
	}
	newHash, err := repo.Storer.SetEncodedObject(mem)
	if err != nil {
		return fmt.Errorf("git store: write squashed commit: %w", err)
	}
	if err = repo.Storer.SetReference(plumbing.NewHashReference(branch, newHash)); err != nil {
		return fmt.Errorf("git store: update branch reference: %w", err)
	}
	return nil
}

func (s *GitStore) maybeRunGC(repo *git.Repository) {
	now := time.Now()
	if now.Sub(s.lastGC) < gcInterval {
		return
	}
	s.lastGC = now

	pruneOpts := git.PruneOptions{
		OnlyObjectsOlderThan: now,
		Handler:              repo.DeleteObject,
	}
	if err := repo.Prune(pruneOpts); err != nil && !errors.Is(err, git.ErrLooseObjectsNotSupported) {
		return
	}
	_ = repo.RepackObjects(&git.RepackConfig{})
}
