package tarball

import (
	"archive/tar"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Info describes a tarball on disk
type Info struct {
	Size      int64
	Shasum    string // hex sha1, as in npm's dist.shasum
	Integrity string // sha512 SRI string, as in npm's dist.integrity
	Files     int
}

// Inspect reads the whole tarball once: it hashes the compressed bytes and
// walks the tar entries to make sure the archive is readable.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tarball: %w", err)
	}
	defer f.Close()

	sha1sum := sha1.New()
	sha512sum := sha512.New()
	counted := &countingReader{r: io.TeeReader(f, io.MultiWriter(sha1sum, sha512sum))}

	zr, err := gzip.NewReader(counted)
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip header: %w", err)
	}
	defer zr.Close()

	info := &Info{}
	tr := tar.NewReader(zr)
	for {
		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		info.Files++
	}

	// Drain trailing bytes so the hashes cover the whole file.
	if _, err := io.Copy(io.Discard, counted); err != nil {
		return nil, fmt.Errorf("failed to read tarball: %w", err)
	}

	info.Size = counted.n
	info.Shasum = hex.EncodeToString(sha1sum.Sum(nil))
	info.Integrity = "sha512-" + base64.StdEncoding.EncodeToString(sha512sum.Sum(nil))
	return info, nil
}

// Create writes a gzipped tarball of sourceDir to targetFile. Entries are
// placed under "package/", the prefix npm uses.
func Create(sourceDir, targetFile string) error {
	out, err := os.Create(targetFile)
	if err != nil {
		return fmt.Errorf("failed to create tarball: %w", err)
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	tw := tar.NewWriter(zw)

	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to build tar header: %w", err)
		}
		hdr.Name = "package/" + filepath.ToSlash(relPath)
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}

		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open source file: %w", err)
		}
		defer src.Close()

		if _, err := io.Copy(tw, src); err != nil {
			return fmt.Errorf("failed to copy file contents: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return out.Close()
}

// Filename returns the conventional tarball filename for a package version.
func Filename(pkg, version string) string {
	if i := strings.LastIndex(pkg, "/"); i >= 0 {
		pkg = pkg[i+1:]
	}
	return pkg + "-" + version + ".tgz"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
