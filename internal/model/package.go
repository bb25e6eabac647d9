package model

import (
	"encoding/json"
	"fmt"
	"maps"
)

// DistTagLatest is the dist-tag npm clients install by default.
const DistTagLatest = "latest"

// Package is the metadata document for one package name (an npm "packument").
// Fields the gateway does not interpret are kept and written back verbatim.
type Package struct {
	Name     string
	DistTags map[string]string
	Versions map[string]*Version

	extra map[string]json.RawMessage
}

// Version is the metadata of one published version.
type Version struct {
	Name    string
	Version string
	Dist    Dist

	extra map[string]json.RawMessage
}

// Dist describes where the version's tarball lives and how to verify it.
type Dist struct {
	Tarball   string
	Shasum    string
	Integrity string

	extra map[string]json.RawMessage
}

// Clone returns a deep copy that can be modified without affecting p.
func (p *Package) Clone() *Package {
	if p == nil {
		return nil
	}
	c := &Package{
		Name:     p.Name,
		DistTags: maps.Clone(p.DistTags),
		extra:    maps.Clone(p.extra),
	}
	if p.Versions != nil {
		c.Versions = make(map[string]*Version, len(p.Versions))
		for k, v := range p.Versions {
			c.Versions[k] = v.Clone()
		}
	}
	return c
}

// Clone returns a deep copy of v.
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	c := *v
	c.extra = maps.Clone(v.extra)
	c.Dist.extra = maps.Clone(v.Dist.extra)
	return &c
}

func (p Package) MarshalJSON() ([]byte, error) {
	out := maps.Clone(p.extra)
	if out == nil {
		out = make(map[string]json.RawMessage)
	}
	if err := setField(out, "name", p.Name, p.Name != ""); err != nil {
		return nil, err
	}
	if err := setField(out, "dist-tags", p.DistTags, p.DistTags != nil); err != nil {
		return nil, err
	}
	if err := setField(out, "versions", p.Versions, p.Versions != nil); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (p *Package) UnmarshalJSON(data []byte) error {
	fields, err := splitFields(data)
	if err != nil {
		return fmt.Errorf("package: %w", err)
	}
	*p = Package{}
	if err := takeField(fields, "name", &p.Name); err != nil {
		return err
	}
	if err := takeField(fields, "dist-tags", &p.DistTags); err != nil {
		return err
	}
	if err := takeField(fields, "versions", &p.Versions); err != nil {
		return err
	}
	p.extra = fields
	return nil
}

func (v Version) MarshalJSON() ([]byte, error) {
	out := maps.Clone(v.extra)
	if out == nil {
		out = make(map[string]json.RawMessage)
	}
	if err := setField(out, "name", v.Name, v.Name != ""); err != nil {
		return nil, err
	}
	if err := setField(out, "version", v.Version, v.Version != ""); err != nil {
		return nil, err
	}
	if err := setField(out, "dist", v.Dist, !v.Dist.isZero()); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (v *Version) UnmarshalJSON(data []byte) error {
	fields, err := splitFields(data)
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	*v = Version{}
	if err := takeField(fields, "name", &v.Name); err != nil {
		return err
	}
	if err := takeField(fields, "version", &v.Version); err != nil {
		return err
	}
	if err := takeField(fields, "dist", &v.Dist); err != nil {
		return err
	}
	v.extra = fields
	return nil
}

func (d Dist) MarshalJSON() ([]byte, error) {
	out := maps.Clone(d.extra)
	if out == nil {
		out = make(map[string]json.RawMessage)
	}
	if err := setField(out, "tarball", d.Tarball, d.Tarball != ""); err != nil {
		return nil, err
	}
	if err := setField(out, "shasum", d.Shasum, d.Shasum != ""); err != nil {
		return nil, err
	}
	if err := setField(out, "integrity", d.Integrity, d.Integrity != ""); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (d *Dist) UnmarshalJSON(data []byte) error {
	fields, err := splitFields(data)
	if err != nil {
		return fmt.Errorf("dist: %w", err)
	}
	*d = Dist{}
	if err := takeField(fields, "tarball", &d.Tarball); err != nil {
		return err
	}
	if err := takeField(fields, "shasum", &d.Shasum); err != nil {
		return err
	}
	if err := takeField(fields, "integrity", &d.Integrity); err != nil {
		return err
	}
	d.extra = fields
	return nil
}

func (d Dist) isZero() bool {
	return d.Tarball == "" && d.Shasum == "" && d.Integrity == "" && len(d.extra) == 0
}

func splitFields(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return fields, nil
}

// takeField decodes fields[key] into dst and removes it from fields.
func takeField(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	delete(fields, key)
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	return nil
}

func setField(out map[string]json.RawMessage, key string, v any, present bool) error {
	if !present {
		delete(out, key)
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	out[key] = raw
	return nil
}
