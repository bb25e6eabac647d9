package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	if _, err := wt.Add(name); err != nil {
		t.Fatalf("Add: %v", err)
	}
	hash, err := wt.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "registry", Email: "registry@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return hash.String()
}

func TestMirrorUpdate(t *testing.T) {
	src := t.TempDir()
	repo, err := git.PlainInit(src, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	first := commitFile(t, repo, src, "lodash/package.json", `{"name":"lodash"}`)

	dst := filepath.Join(t.TempDir(), "packages")
	m := NewMirror(src, dst, false, zap.NewNop())
	ctx := context.Background()

	got, err := m.Update(ctx)
	if err != nil {
		t.Fatalf("Update (clone): %v", err)
	}
	if got != first {
		t.Fatalf("commit = %s, want %s", got, first)
	}
	if _, err := os.Stat(filepath.Join(dst, "lodash", "package.json")); err != nil {
		t.Fatalf("cloned file missing: %v", err)
	}

	got, err = m.Update(ctx)
	if err != nil {
		t.Fatalf("Update (up to date): %v", err)
	}
	if got != first {
		t.Fatalf("commit = %s, want %s", got, first)
	}

	second := commitFile(t, repo, src, "@acme/widget/package.json", `{"name":"@acme/widget"}`)
	got, err = m.Update(ctx)
	if err != nil {
		t.Fatalf("Update (pull): %v", err)
	}
	if got != second {
		t.Fatalf("commit = %s, want %s", got, second)
	}
	if _, err := os.Stat(filepath.Join(dst, "@acme", "widget", "package.json")); err != nil {
		t.Fatalf("pulled file missing: %v", err)
	}
}

func TestMirrorUpdateBadURL(t *testing.T) {
	m := NewMirror(filepath.Join(t.TempDir(), "does-not-exist"), filepath.Join(t.TempDir(), "packages"), false, zap.NewNop())
	if _, err := m.Update(context.Background()); err == nil {
		t.Fatalf("Update succeeded for a missing remote")
	}
}
