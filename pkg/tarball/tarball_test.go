package tarball

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndInspect(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "package.json"), []byte(`{"name":"x"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(src, "lib"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "lib", "index.js"), []byte("module.exports = 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	target := filepath.Join(t.TempDir(), "x-1.0.0.tgz")
	if err := Create(src, target); err != nil {
		t.Fatalf("Create: %v", err)
	}

	info, err := Inspect(target)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	sum := sha1.Sum(data)
	if info.Shasum != hex.EncodeToString(sum[:]) {
		t.Fatalf("Shasum = %s, want %x", info.Shasum, sum)
	}
	if info.Size != int64(len(data)) {
		t.Fatalf("Size = %d, want %d", info.Size, len(data))
	}
	if info.Files != 2 {
		t.Fatalf("Files = %d, want 2", info.Files)
	}
	if len(info.Integrity) < len("sha512-") || info.Integrity[:7] != "sha512-" {
		t.Fatalf("Integrity = %q", info.Integrity)
	}
}

func TestInspectRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tgz")
	if err := os.WriteFile(path, []byte("definitely not gzip"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Inspect(path); err == nil {
		t.Fatalf("expected error for corrupt tarball")
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("@scope/name", "1.2.3"); got != "name-1.2.3.tgz" {
		t.Fatalf("Filename = %q", got)
	}
	if got := Filename("lodash", "4.17.21"); got != "lodash-4.17.21.tgz" {
		t.Fatalf("Filename = %q", got)
	}
}
