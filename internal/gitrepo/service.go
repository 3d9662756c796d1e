// Package gitrepo stores blobs as files in a local git repository. Each write
// is a commit on a single branch and a file's version is its git blob hash, so
// the tokens match the sha the GitHub contents API reports for the same bytes.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"navsphere/api/internal/blob"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	log "github.com/sirupsen/logrus"
)

const DefaultBranch = "main"

type Store struct {
	dir    string
	branch string
	logger log.FieldLogger

	mu   sync.Mutex
	repo *git.Repository
}

// Open opens the repository at dir, initialising an empty one with HEAD on
// branch when none exists.
func Open(dir, branch string, logger log.FieldLogger) (*Store, error) {
	if strings.TrimSpace(branch) == "" {
		branch = DefaultBranch
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = initRepo(dir, branch)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		branch: branch,
		logger: logger.WithField("store", "git"),
		repo:   repo,
	}, nil
}

func initRepo(dir, branch string) (*git.Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return repo, nil
}

func (s *Store) Read(ctx context.Context, name string) (blob.Blob, error) {
	if err := ctx.Err(); err != nil {
		return blob.Blob{}, err
	}
	clean, err := cleanPath(name)
	if err != nil {
		return blob.Blob{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.headFile(clean)
	if err != nil {
		return blob.Blob{}, err
	}
	contents, err := file.Contents()
	if err != nil {
		return blob.Blob{}, blob.Transportf(err, "read %s", clean)
	}
	return blob.Blob{Content: []byte(contents), Version: file.Hash.String()}, nil
}

func (s *Store) Write(ctx context.Context, req blob.WriteRequest) (string, error) {
	clean, err := cleanPath(req.Path)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	current := ""
	file, err := s.headFile(clean)
	switch {
	case err == nil:
		current = file.Hash.String()
	case !errors.Is(err, blob.ErrNotFound):
		return "", err
	}
	if current != req.ExpectedVersion {
		return "", &blob.ConflictError{Path: clean, Expected: req.ExpectedVersion, Current: current}
	}

	if err := s.checkoutBranch(); err != nil {
		return "", blob.Transportf(err, "checkout %s", s.branch)
	}
	worktree, err := s.repo.Worktree()
	if err != nil {
		return "", blob.Transportf(err, "open worktree")
	}

	target := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", blob.Transportf(err, "create directory for %s", clean)
	}
	if err := os.WriteFile(target, req.Content, 0o644); err != nil {
		return "", blob.Transportf(err, "write %s", clean)
	}
	if _, err := worktree.Add(clean); err != nil {
		return "", blob.Transportf(err, "git add %s", clean)
	}

	hash, err := worktree.Commit(commitMessage(req), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(req.Author),
	})
	if err != nil {
		return "", blob.Transportf(err, "commit %s", clean)
	}

	written, err := s.headFile(clean)
	if err != nil {
		return "", blob.Transportf(err, "read back %s", clean)
	}
	s.logger.WithFields(log.Fields{
		"path":    clean,
		"commit":  hash.String()[:7],
		"version": written.Hash.String(),
	}).Debug("gitrepo: committed")
	return written.Hash.String(), nil
}

func (s *Store) headFile(name string) (*object.File, error) {
	ref, err := s.repo.Reference(plumbing.NewBranchReferenceName(s.branch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("%w: branch %s has no commits", blob.ErrNotFound, s.branch)
		}
		return nil, blob.Transportf(err, "resolve branch %s", s.branch)
	}
	commitObj, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, blob.Transportf(err, "load commit object")
	}
	file, err := commitObj.File(name)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, name)
		}
		return nil, blob.Transportf(err, "load %s from commit", name)
	}
	return file, nil
}

func (s *Store) checkoutBranch() error {
	branchRef := plumbing.NewBranchReferenceName(s.branch)
	if _, err := s.repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Unborn branch: the first commit creates it.
			return s.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef))
		}
		return fmt.Errorf("resolve branch %s: %w", s.branch, err)
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", s.branch, err)
	}
	return nil
}

func cleanPath(name string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(filepath.ToSlash(name), "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid blob path %q", name)
	}
	return clean, nil
}

func commitMessage(req blob.WriteRequest) string {
	if strings.TrimSpace(req.Message) == "" {
		return "Update " + req.Path
	}
	return req.Message
}

func signature(author blob.Author) *object.Signature {
	name := strings.TrimSpace(author.Name)
	if name == "" {
		name = "NavSphere"
	}
	email := strings.TrimSpace(author.Email)
	if email == "" {
		email = fmt.Sprintf("%s@users.navsphere.local", sanitizeEmail(name))
	}
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
