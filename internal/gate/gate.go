// Package gate enforces the version ceiling on tarball downloads and relays
// permitted tarballs to the client.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ippclub/dora-registry/internal/model"
	"github.com/ippclub/dora-registry/internal/store"
	"github.com/ippclub/dora-registry/internal/version"
	"go.uber.org/zap"
)

// Stream is a permission-checked tarball. Read fails when the source faults.
type Stream interface {
	io.ReadCloser
	// Length reports the content length if it is known before reading.
	Length() (int64, bool)
}

// Storage hands out raw tarball handles.
type Storage interface {
	GetTarball(ctx context.Context, name, filename string) *store.Tarball
}

// StreamProcessor checks the caller's access and turns a raw handle into a Stream.
type StreamProcessor interface {
	ProcessStream(ctx context.Context, name, filename string, user model.RemoteUser, raw *store.Tarball) (Stream, error)
}

// ResponseSink is the subset of http.ResponseWriter the relay writes to.
type ResponseSink interface {
	Header() http.Header
	Write([]byte) (int, error)
}

// ForbiddenError rejects a tarball above the caller's version ceiling.
type ForbiddenError struct {
	Filename string
}

func (e *ForbiddenError) Error() string {
	return "user is not allowed to access the package " + e.Filename
}

// StreamError is a fault of the tarball source while relaying.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("tarball stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Request describes one tarball download.
type Request struct {
	Package  string
	Filename string
	Ceiling  *version.Ceiling // nil when the request has no ceiling
	User     model.RemoteUser
}

var scopePrefix = regexp.MustCompile(`^@[^/]*/`)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// ArtifactVersion derives the version from a tarball filename of the form
// <name>-<version>.tgz. The scope of a scoped package name is not part of
// the filename and is stripped first.
func ArtifactVersion(pkg, filename string) string {
	bare := scopePrefix.ReplaceAllString(pkg, "")
	v := strings.TrimPrefix(filename, bare+"-")
	return strings.TrimSuffix(v, ".tgz")
}

// Check rejects filename when its version is above c. A nil c allows everything.
// Filenames whose version cannot be parsed are rejected.
func Check(pkg, filename string, c *version.Ceiling) error {
	if c == nil {
		return nil
	}
	if !c.Allows(ArtifactVersion(pkg, filename)) {
		return &ForbiddenError{Filename: filename}
	}
	return nil
}

// Gate serves tarballs.
type Gate struct {
	storage   Storage
	processor StreamProcessor
	logger    *zap.Logger
}

// New creates a Gate
func New(storage Storage, processor StreamProcessor, logger *zap.Logger) *Gate {
	return &Gate{
		storage:   storage,
		processor: processor,
		logger:    logger,
	}
}

// Serve checks the ceiling, obtains the stream and relays it to w.
//
// A *ForbiddenError is returned before storage is touched. Errors from the
// stream processor are returned before anything is written. A *StreamError
// may be returned after headers and part of the body were written. A client
// that goes away mid-transfer is not an error.
func (g *Gate) Serve(ctx context.Context, req Request, w ResponseSink) error {
	if err := Check(req.Package, req.Filename, req.Ceiling); err != nil {
		g.logger.Info("tarball above version ceiling",
			zap.String("package", req.Package),
			zap.String("filename", req.Filename),
			zap.String("ceiling", req.Ceiling.String()),
		)
		return err
	}

	raw := g.storage.GetTarball(ctx, req.Package, req.Filename)
	stream, err := g.processor.ProcessStream(ctx, req.Package, req.Filename, req.User, raw)
	if err != nil {
		return err
	}
	if stream == nil {
		return &StreamError{Err: errors.New("no stream for " + req.Filename)}
	}
	defer stream.Close()

	length, hasLength := stream.Length()
	w.Header().Set("Content-Type", "application/octet-stream")
	if hasLength {
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	}

	written, err := relay(ctx, w, stream)
	var serr *StreamError
	switch {
	case errors.As(err, &serr):
		g.logger.Error("tarball stream failed",
			zap.String("package", req.Package),
			zap.String("filename", req.Filename),
			zap.Int64("written", written),
			zap.Error(err),
		)
		return err
	case err != nil:
		g.logger.Debug("tarball download aborted by client",
			zap.String("filename", req.Filename),
			zap.Int64("written", written),
			zap.Error(err),
		)
		return nil
	}

	if hasLength && written != length {
		err := &StreamError{Err: fmt.Errorf("%w: got %d of %d bytes", io.ErrUnexpectedEOF, written, length)}
		g.logger.Error("tarball stream truncated",
			zap.String("filename", req.Filename),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// relay copies src to dst in order. Read faults come back as *StreamError;
// write failures and cancellation are returned as they are.
func relay(ctx context.Context, dst ResponseSink, src io.Reader) (int64, error) {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)
	buf := *bp

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, &StreamError{Err: rerr}
		}
	}
}
