// Package rewrite points the tarball links inside package documents at the
// gateway instead of the registry they were published to.
package rewrite

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/ippclub/dora-registry/internal/model"
)

// CeilingPath is the route prefix that carries a version ceiling.
const CeilingPath = "/-/until/"

// Rewriter rewrites dist.tarball URLs. It holds no state.
type Rewriter struct{}

// Rewrite returns a copy of pkg whose tarball URLs live under base.
// An empty base returns an unmodified copy.
func (Rewriter) Rewrite(pkg *model.Package, base string) *model.Package {
	out := pkg.Clone()
	if base == "" {
		return out
	}
	for _, v := range out.Versions {
		if v == nil || v.Dist.Tarball == "" {
			continue
		}
		name := out.Name
		if name == "" {
			name = v.Name
		}
		v.Dist.Tarball = TarballURL(base, name, TarballFilename(v.Dist.Tarball))
	}
	return out
}

// TarballURL builds <base>/<name>/-/<filename>, encoding the scope separator
// of scoped names so the package stays one path segment.
func TarballURL(base, name, filename string) string {
	return strings.TrimSuffix(base, "/") + "/" + EscapeName(name) + "/-/" + filename
}

// EscapeName encodes "@scope/name" as "@scope%2fname".
func EscapeName(name string) string {
	return strings.Replace(name, "/", "%2f", 1)
}

// BaseURL derives the externally visible base URL of the gateway for r.
// When ceiling is non-empty the base includes the ceiling route so that
// tarball downloads pass through the same limit as the metadata request.
func BaseURL(r *http.Request, urlPrefix, ceiling string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}

	base := scheme + "://" + r.Host
	if prefix := strings.Trim(urlPrefix, "/"); prefix != "" {
		base += "/" + prefix
	}
	if ceiling != "" {
		base += strings.TrimSuffix(CeilingPath, "/") + "/" + url.PathEscape(ceiling)
	}
	return base
}

// TarballFilename returns the last path segment of a tarball URL.
func TarballFilename(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(raw)
}
