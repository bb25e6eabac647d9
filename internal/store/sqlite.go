package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ippclub/dora-registry/internal/model"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrPackageNotFound is returned when no document exists for a package name.
var ErrPackageNotFound = errors.New("package not found")

// SQLiteStore keeps package documents in SQLite and tarballs on disk.
type SQLiteStore struct {
	db          *sql.DB
	logger      *zap.Logger
	packagesDir string
	reads       singleflight.Group
}

// NewSQLiteStore creates a new SQLite store rooted at dataPath.
func NewSQLiteStore(dataPath string, logger *zap.Logger) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataPath, "registry.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(model.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{
		db:          db,
		logger:      logger,
		packagesDir: filepath.Join(dataPath, "packages"),
	}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PackagesDir is the directory tarballs are served from.
func (s *SQLiteStore) PackagesDir() string {
	return s.packagesDir
}

// GetMetadata returns a private copy of the document for name.
// Concurrent reads of the same name share one query, which does not stop
// when the caller that started it goes away.
func (s *SQLiteStore) GetMetadata(ctx context.Context, name string) (*model.Package, error) {
	v, err, shared := s.reads.Do(name, func() (interface{}, error) {
		return s.getDocument(context.WithoutCancel(ctx), name)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("coalesced metadata read", zap.String("package", name))
	}

	pkg := &model.Package{}
	if err := json.Unmarshal(v.([]byte), pkg); err != nil {
		return nil, fmt.Errorf("failed to decode package %s: %w", name, err)
	}
	return pkg, nil
}

func (s *SQLiteStore) getDocument(ctx context.Context, name string) ([]byte, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM packages WHERE name = ?`, name).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return doc, nil
}

// UpsertPackage updates or inserts a package document
func (s *SQLiteStore) UpsertPackage(ctx context.Context, pkg *model.Package) error {
	if pkg.Name == "" {
		return fmt.Errorf("package document has no name")
	}
	doc, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("failed to encode package %s: %w", pkg.Name, err)
	}

	query := `
		INSERT INTO packages (name, document, versions, latest, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			document = excluded.document,
			versions = excluded.versions,
			latest = excluded.latest,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		pkg.Name,
		doc,
		len(pkg.Versions),
		pkg.DistTags[model.DistTagLatest],
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert package: %w", err)
	}
	return nil
}

// DeletePackage removes a package document from the index
func (s *SQLiteStore) DeletePackage(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM packages WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete package: %w", err)
	}
	return nil
}

// ListPackages returns the summary rows of all indexed packages, without documents
func (s *SQLiteStore) ListPackages(ctx context.Context) ([]*model.DBPackage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, versions, latest, created_at, updated_at FROM packages ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var packages []*model.DBPackage
	for rows.Next() {
		p := &model.DBPackage{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Versions, &p.Latest, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

// RecordSyncRun stores the outcome of an import and bumps the generation
func (s *SQLiteStore) RecordSyncRun(ctx context.Context, run *model.DBSyncRun) error {
	query := `
		INSERT INTO sync_runs (generation, imported, removed, commit_hash, finished_at)
		SELECT COALESCE(MAX(generation), 0) + 1, ?, ?, ?, ?
		FROM sync_runs
		RETURNING id, generation
	`
	run.FinishedAt = time.Now()
	err := s.db.QueryRowContext(ctx, query, run.Imported, run.Removed, run.CommitHash, run.FinishedAt).
		Scan(&run.ID, &run.Generation)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// LatestSyncRun returns the most recent import, or nil if none ran yet
func (s *SQLiteStore) LatestSyncRun(ctx context.Context) (*model.DBSyncRun, error) {
	query := `SELECT id, generation, imported, removed, commit_hash, finished_at FROM sync_runs ORDER BY id DESC LIMIT 1`
	run := &model.DBSyncRun{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&run.ID,
		&run.Generation,
		&run.Imported,
		&run.Removed,
		&run.CommitHash,
		&run.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest sync run: %w", err)
	}
	return run, nil
}
