package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrTarballNotFound is returned by Tarball.Open when the file does not exist.
	ErrTarballNotFound = errors.New("tarball not found")
	// ErrInvalidPath is returned for names or filenames that would escape the storage directory.
	ErrInvalidPath = errors.New("invalid tarball path")
)

// Tarball is a handle to a stored tarball. Nothing is read from disk until Open.
type Tarball struct {
	Package  string
	Filename string
	root     string
}

// GetTarball returns a lazy handle; permission checks happen before Open.
func (s *SQLiteStore) GetTarball(ctx context.Context, name, filename string) *Tarball {
	return &Tarball{Package: name, Filename: filename, root: s.packagesDir}
}

// Path returns the on-disk location of the tarball.
func (t *Tarball) Path() (string, error) {
	if !validFilename(t.Filename) || !validPackageName(t.Package) {
		return "", fmt.Errorf("%w: %s/%s", ErrInvalidPath, t.Package, t.Filename)
	}
	return filepath.Join(t.root, filepath.FromSlash(t.Package), t.Filename), nil
}

// Open opens the tarball for reading.
func (t *Tarball) Open() (*TarballReader, error) {
	path, err := t.Path()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrTarballNotFound, t.Filename)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open tarball: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat tarball: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrTarballNotFound, t.Filename)
	}
	return &TarballReader{File: f, size: info.Size()}, nil
}

// TarballReader reads an opened tarball.
type TarballReader struct {
	*os.File
	size int64
}

// Length returns the file size, which is always known for files on disk.
func (r *TarballReader) Length() (int64, bool) {
	return r.size, true
}

func validFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

func validPackageName(name string) bool {
	if name == "" || strings.ContainsAny(name, "\\\x00") {
		return false
	}
	parts := strings.Split(name, "/")
	if len(parts) > 2 || (len(parts) == 2 && !strings.HasPrefix(parts[0], "@")) {
		return false
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return false
		}
	}
	return true
}
