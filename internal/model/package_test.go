package model

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const lodashDoc = `{
  "_id": "lodash",
  "name": "lodash",
  "readme": "# lodash",
  "dist-tags": {"latest": "2.0.0", "next": "3.0.0-rc.1"},
  "versions": {
    "1.0.0": {
      "name": "lodash",
      "version": "1.0.0",
      "main": "index.js",
      "dist": {"tarball": "https://registry.npmjs.org/lodash/-/lodash-1.0.0.tgz", "shasum": "abc", "fileCount": 3}
    },
    "2.0.0": {}
  }
}`

func TestPackageKeepsUnknownFields(t *testing.T) {
	var p Package
	if err := json.Unmarshal([]byte(lodashDoc), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Name != "lodash" || p.DistTags["next"] != "3.0.0-rc.1" {
		t.Fatalf("unexpected package: %+v", p)
	}
	v := p.Versions["1.0.0"]
	if v.Dist.Shasum != "abc" {
		t.Fatalf("Dist.Shasum = %q, want abc", v.Dist.Shasum)
	}

	out, err := json.Marshal(&p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got, want map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("Unmarshal out: %v", err)
	}
	if err := json.Unmarshal([]byte(lodashDoc), &want); err != nil {
		t.Fatalf("Unmarshal want: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("document changed (-want +got):\n%s", diff)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	var p Package
	if err := json.Unmarshal([]byte(lodashDoc), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	c := p.Clone()
	c.DistTags[DistTagLatest] = "1.0.0"
	c.Versions["1.0.0"].Dist.Tarball = "http://local/lodash/-/lodash-1.0.0.tgz"
	delete(c.Versions, "2.0.0")

	if p.DistTags[DistTagLatest] != "2.0.0" {
		t.Fatalf("clone changed original dist-tags")
	}
	if p.Versions["1.0.0"].Dist.Tarball != "https://registry.npmjs.org/lodash/-/lodash-1.0.0.tgz" {
		t.Fatalf("clone changed original tarball URL")
	}
	if _, ok := p.Versions["2.0.0"]; !ok {
		t.Fatalf("clone changed original versions")
	}
}

func TestEmptyVersionRoundTrip(t *testing.T) {
	out, err := json.Marshal(&Version{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != "{}" {
		t.Fatalf("Marshal = %s, want {}", out)
	}
}
