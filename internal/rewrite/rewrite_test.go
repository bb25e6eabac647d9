package rewrite

import (
	"crypto/tls"
	"net/http/httptest"
	"testing"

	"github.com/ippclub/dora-registry/internal/model"
)

func TestRewriteTarballs(t *testing.T) {
	pkg := &model.Package{
		Name: "@acme/widget",
		Versions: map[string]*model.Version{
			"1.0.0": {Dist: model.Dist{Tarball: "https://registry.npmjs.org/@acme/widget/-/widget-1.0.0.tgz?x=1"}},
			"2.0.0": {},
		},
	}

	got := Rewriter{}.Rewrite(pkg, "http://gw.local/npm/")
	want := "http://gw.local/npm/@acme%2fwidget/-/widget-1.0.0.tgz"
	if url := got.Versions["1.0.0"].Dist.Tarball; url != want {
		t.Fatalf("tarball = %q, want %q", url, want)
	}
	if got.Versions["2.0.0"].Dist.Tarball != "" {
		t.Fatalf("empty tarball URL was filled in")
	}
	if pkg.Versions["1.0.0"].Dist.Tarball == want {
		t.Fatalf("Rewrite modified its input")
	}
}

func TestRewriteEmptyBase(t *testing.T) {
	pkg := &model.Package{
		Name:     "left-pad",
		Versions: map[string]*model.Version{"1.0.0": {Dist: model.Dist{Tarball: "https://r/left-pad/-/left-pad-1.0.0.tgz"}}},
	}
	got := Rewriter{}.Rewrite(pkg, "")
	if got == pkg {
		t.Fatalf("Rewrite returned its input")
	}
	if got.Versions["1.0.0"].Dist.Tarball != "https://r/left-pad/-/left-pad-1.0.0.tgz" {
		t.Fatalf("tarball changed with empty base")
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		proto   string
		tls     bool
		prefix  string
		ceiling string
		want    string
	}{
		{name: "plain", want: "http://example.com"},
		{name: "tls", tls: true, want: "https://example.com"},
		{name: "forwarded proto", proto: "https, http", want: "https://example.com"},
		{name: "prefix", prefix: "/npm/", want: "http://example.com/npm"},
		{name: "ceiling", prefix: "npm", ceiling: "1.5.0", want: "http://example.com/npm/-/until/1.5.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "http://example.com/lodash", nil)
			if tt.proto != "" {
				r.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if got := BaseURL(r, tt.prefix, tt.ceiling); got != tt.want {
				t.Fatalf("BaseURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTarballFilename(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"https://registry.npmjs.org/lodash/-/lodash-4.17.21.tgz", "lodash-4.17.21.tgz"},
		{"https://registry.npmjs.org/@acme%2fwidget/-/widget-1.0.0.tgz?cache=1", "widget-1.0.0.tgz"},
		{"widget-1.0.0.tgz", "widget-1.0.0.tgz"},
	}
	for _, tt := range tests {
		if got := TarballFilename(tt.raw); got != tt.want {
			t.Errorf("TarballFilename(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
