// Package resolver turns a package name plus an optional version, dist-tag
// and ceiling into the metadata document or version record to return.
package resolver

import (
	"context"
	"fmt"

	"github.com/ippclub/dora-registry/internal/model"
	"github.com/ippclub/dora-registry/internal/version"
	"go.uber.org/zap"
)

// Storage supplies package metadata.
type Storage interface {
	// GetMetadata returns a copy of the package document owned by the caller.
	GetMetadata(ctx context.Context, name string) (*model.Package, error)
}

// URLRewriter points dist tarball URLs at the gateway.
type URLRewriter interface {
	Rewrite(pkg *model.Package, base string) *model.Package
}

// NotFoundError is returned when neither a version nor a dist-tag matches.
type NotFoundError struct {
	Package string
	Query   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("version not found: %s", e.Query)
}

// Result holds exactly one of Package or Version.
type Result struct {
	Package *model.Package
	Version *model.Version
}

// Document returns whichever of Package or Version is set, for encoding.
func (r *Result) Document() any {
	if r.Version != nil {
		return r.Version
	}
	return r.Package
}

// Option configures a single Resolve call.
type Option func(*query)

type query struct {
	version    string
	hasVersion bool
	ceiling    *version.Ceiling
	base       string
}

// WithVersion asks for one version record. v may be a version or a dist-tag.
func WithVersion(v string) Option {
	return func(q *query) {
		q.version = v
		q.hasVersion = true
	}
}

// WithCeiling hides every version above c. A nil c leaves the document untouched.
func WithCeiling(c *version.Ceiling) Option {
	return func(q *query) {
		q.ceiling = c
	}
}

// WithTarballBase sets the base URL tarball links are rewritten to.
func WithTarballBase(base string) Option {
	return func(q *query) {
		q.base = base
	}
}

// Resolver answers metadata requests.
type Resolver struct {
	storage  Storage
	rewriter URLRewriter
	logger   *zap.Logger
}

// New creates a Resolver
func New(storage Storage, rewriter URLRewriter, logger *zap.Logger) *Resolver {
	return &Resolver{
		storage:  storage,
		rewriter: rewriter,
		logger:   logger,
	}
}

// Resolve fetches the package document for name and narrows it according to opts.
// Storage errors are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, name string, opts ...Option) (*Result, error) {
	var q query
	for _, opt := range opts {
		opt(&q)
	}

	pkg, err := r.storage.GetMetadata(ctx, name)
	if err != nil {
		return nil, err
	}

	pkg = r.rewriter.Rewrite(pkg, q.base)

	if q.ceiling != nil {
		before := len(pkg.Versions)
		pkg = ApplyCeiling(pkg, q.ceiling)
		r.logger.Debug("applied version ceiling",
			zap.String("package", name),
			zap.String("ceiling", q.ceiling.String()),
			zap.Int("versions", before),
			zap.Int("visible", len(pkg.Versions)),
		)
	}

	if !q.hasVersion {
		return &Result{Package: pkg}, nil
	}

	if v, ok := Lookup(pkg, q.version); ok {
		return &Result{Version: v}, nil
	}
	return nil, &NotFoundError{Package: name, Query: q.version}
}

// ApplyCeiling returns a copy of pkg holding only versions <= c, with the
// "latest" dist-tag set to c whether or not c itself is published.
func ApplyCeiling(pkg *model.Package, c *version.Ceiling) *model.Package {
	out := pkg.Clone()
	out.Versions = make(map[string]*model.Version, len(pkg.Versions))
	for v, meta := range pkg.Versions {
		if c.Allows(v) {
			out.Versions[v] = meta.Clone()
		}
	}
	if out.DistTags == nil {
		out.DistTags = make(map[string]string, 1)
	}
	out.DistTags[model.DistTagLatest] = c.String()
	return out
}

// Lookup finds q as a version key, then as a dist-tag whose target is a
// version key. Tags are followed one hop only. Null version entries count
// as missing.
func Lookup(pkg *model.Package, q string) (*model.Version, bool) {
	if v := pkg.Versions[q]; v != nil {
		return v, true
	}
	target, ok := pkg.DistTags[q]
	if !ok {
		return nil, false
	}
	v := pkg.Versions[target]
	return v, v != nil
}
