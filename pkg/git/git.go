package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// Mirror is a git checkout of a package storage directory
type Mirror struct {
	URL    string
	Path   string
	LFS    bool
	Logger *zap.Logger
}

// NewMirror creates a Mirror checked out at path
func NewMirror(url, path string, lfs bool, logger *zap.Logger) *Mirror {
	return &Mirror{
		URL:    url,
		Path:   path,
		LFS:    lfs,
		Logger: logger,
	}
}

// Update clones the mirror on first use and pulls it afterwards.
// It returns the commit hash now checked out.
func (m *Mirror) Update(ctx context.Context) (string, error) {
	repo, err := m.openOrClone(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open/clone mirror: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	err = worktree.PullContext(ctx, &git.PullOptions{Force: true})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", fmt.Errorf("failed to pull: %w", err)
	}

	if m.LFS {
		m.lfsPull(ctx)
	}

	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// lfsPull fetches large files with the git binary. Failures are logged, not returned.
func (m *Mirror) lfsPull(ctx context.Context) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		m.Logger.Warn("git not found for LFS pull", zap.Error(err))
		return
	}
	cmd := exec.CommandContext(ctx, gitPath, "lfs", "pull")
	cmd.Dir = m.Path
	output, err := cmd.CombinedOutput()
	if err != nil {
		m.Logger.Warn("git lfs pull failed", zap.Error(err), zap.ByteString("output", output))
		return
	}
	m.Logger.Debug("git lfs pull succeeded", zap.ByteString("output", output))
}

// openOrClone opens an existing checkout or clones it if it doesn't exist
func (m *Mirror) openOrClone(ctx context.Context) (*git.Repository, error) {
	repo, err := git.PlainOpen(m.Path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, err
	}

	m.Logger.Info("cloning package mirror",
		zap.String("url", m.URL),
		zap.String("path", m.Path),
	)

	if err := os.MkdirAll(m.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	repo, err = git.PlainCloneContext(ctx, m.Path, false, &git.CloneOptions{
		URL: m.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone: %w", err)
	}
	return repo, nil
}
