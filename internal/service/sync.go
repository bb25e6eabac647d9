package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ippclub/dora-registry/internal/config"
	"github.com/ippclub/dora-registry/internal/model"
	"github.com/ippclub/dora-registry/internal/rewrite"
	"github.com/ippclub/dora-registry/pkg/git"
	"github.com/ippclub/dora-registry/pkg/tarball"
	"go.uber.org/zap"
)

const manifestFile = "package.json"

// importWorkers bounds how many packages are imported at once
const importWorkers = 4

// Store is the part of the package index the sync service writes to
type Store interface {
	UpsertPackage(ctx context.Context, pkg *model.Package) error
	DeletePackage(ctx context.Context, name string) error
	ListPackages(ctx context.Context) ([]*model.DBPackage, error)
	RecordSyncRun(ctx context.Context, run *model.DBSyncRun) error
}

// SyncService imports the package storage directory into the index
type SyncService struct {
	logger      *zap.Logger
	store       Store
	packagesDir string
	mirror      *git.Mirror
	mu          sync.Mutex
	onSync      func(*model.DBSyncRun)
}

// NewSyncService creates a new SyncService. When a mirror URL is configured
// the packages directory is pulled from git before every import.
func NewSyncService(cfg *config.Config, st Store, logger *zap.Logger) *SyncService {
	s := &SyncService{
		logger:      logger,
		store:       st,
		packagesDir: cfg.PackagesDir(),
	}
	if cfg.Mirror.URL != "" {
		s.mirror = git.NewMirror(cfg.Mirror.URL, s.packagesDir, cfg.Mirror.LFS, logger)
	}
	return s
}

// SetOnSyncCallback registers fn to run after every successful import
func (s *SyncService) SetOnSyncCallback(fn func(*model.DBSyncRun)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSync = fn
}

// SyncAll pulls the mirror if one is configured, then imports every package
// found on disk and drops index entries whose directory is gone. Packages
// that fail to import are reported together; the rest are still imported.
func (s *SyncService) SyncAll(ctx context.Context) (*model.DBSyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &model.DBSyncRun{}
	if s.mirror != nil {
		commit, err := s.mirror.Update(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to update mirror: %w", err)
		}
		run.CommitHash = commit
	}

	names, err := discover(s.packagesDir)
	if err != nil {
		return nil, err
	}

	var (
		wg       sync.WaitGroup
		imported sync.Map
	)
	errChan := make(chan error, len(names))
	sem := make(chan struct{}, importWorkers)

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := s.importPackage(ctx, name); err != nil {
				errChan <- fmt.Errorf("failed to import %s: %w", name, err)
				return
			}
			imported.Store(name, struct{}{})
		}(name)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	indexed, err := s.store.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}
	for _, p := range indexed {
		if present[p.Name] {
			continue
		}
		if err := s.store.DeletePackage(ctx, p.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("package removed from index", zap.String("package", p.Name))
		run.Removed++
	}

	imported.Range(func(_, _ any) bool {
		run.Imported++
		return true
	})

	if err := s.store.RecordSyncRun(ctx, run); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("package storage synchronized",
		zap.Int64("generation", run.Generation),
		zap.Int("imported", run.Imported),
		zap.Int("removed", run.Removed),
		zap.Int("failed", len(errs)),
		zap.String("commit", run.CommitHash),
	)

	if len(errs) > 0 {
		return run, fmt.Errorf("sync errors: %w", errors.Join(errs...))
	}
	if s.onSync != nil {
		s.onSync(run)
	}
	return run, nil
}

// importPackage reads <packagesDir>/<name>/package.json, checks the tarballs
// it references and writes it to the index.
func (s *SyncService) importPackage(ctx context.Context, name string) error {
	dir := filepath.Join(s.packagesDir, filepath.FromSlash(name))
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return err
	}

	pkg := &model.Package{}
	if err := json.Unmarshal(data, pkg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", manifestFile, err)
	}
	if pkg.Name == "" {
		pkg.Name = name
	}
	if pkg.Name != name {
		return fmt.Errorf("document names %q but lives in %q", pkg.Name, name)
	}

	for key, v := range pkg.Versions {
		if v == nil {
			continue
		}
		s.verifyTarball(dir, name, key, v)
	}

	return s.store.UpsertPackage(ctx, pkg)
}

// verifyTarball logs problems with the tarball behind a version record.
// A missing or damaged tarball does not stop the import.
func (s *SyncService) verifyTarball(dir, name, key string, v *model.Version) {
	filename := tarball.Filename(name, key)
	if v.Dist.Tarball != "" {
		filename = rewrite.TarballFilename(v.Dist.Tarball)
	}

	info, err := tarball.Inspect(filepath.Join(dir, filename))
	if err != nil {
		s.logger.Warn("unreadable tarball",
			zap.String("package", name),
			zap.String("version", key),
			zap.String("filename", filename),
			zap.Error(err),
		)
		return
	}
	if v.Dist.Shasum != "" && !strings.EqualFold(v.Dist.Shasum, info.Shasum) {
		s.logger.Warn("tarball shasum mismatch",
			zap.String("package", name),
			zap.String("version", key),
			zap.String("want", v.Dist.Shasum),
			zap.String("got", info.Shasum),
		)
	}
}

// discover lists the package names under root: plain names at the top level
// and "@scope/name" one level below a scope directory.
func discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read packages directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !strings.HasPrefix(e.Name(), "@") {
			if hasManifest(filepath.Join(root, e.Name())) {
				names = append(names, e.Name())
			}
			continue
		}

		scoped, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read scope %s: %w", e.Name(), err)
		}
		for _, se := range scoped {
			if se.IsDir() && hasManifest(filepath.Join(root, e.Name(), se.Name())) {
				names = append(names, e.Name()+"/"+se.Name())
			}
		}
	}
	return names, nil
}

func hasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, manifestFile))
	return err == nil && !info.IsDir()
}
