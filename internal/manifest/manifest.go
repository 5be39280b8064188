// Package manifest applies declarative YAML descriptions of ktypes, kitems
// and apps through the client facade, and re-applies them on change.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/starford/dsms/internal/apperr"
)

// Manifest is one YAML document.
type Manifest struct {
	KTypes []KType `yaml:"ktypes"`
	KItems []KItem `yaml:"kitems"`
	Apps   []App   `yaml:"apps"`
}

// KType declares a knowledge type. Webform is the webform mapping as the
// backend stores it.
type KType struct {
	ID      string         `yaml:"id"`
	Name    string         `yaml:"name"`
	Webform map[string]any `yaml:"webform"`
}

// KItem declares a knowledge item. Without an id one is derived from the
// type and name, so applying the same manifest twice targets the same item.
// Unset collections are left as they are on existing items.
type KItem struct {
	ID               string         `yaml:"id"`
	Name             string         `yaml:"name"`
	Slug             string         `yaml:"slug"`
	KType            string         `yaml:"ktype_id"`
	Summary          *string        `yaml:"summary"`
	Annotations      []any          `yaml:"annotations"`
	Attachments      []string       `yaml:"attachments"`
	LinkedKItems     []string       `yaml:"linked_kitems"`
	Affiliations     []any          `yaml:"affiliations"`
	Authors          []any          `yaml:"authors"`
	Contacts         []any          `yaml:"contacts"`
	ExternalLinks    []any          `yaml:"external_links"`
	Apps             []any          `yaml:"kitem_apps"`
	UserGroups       []any          `yaml:"user_groups"`
	CustomProperties map[string]any `yaml:"custom_properties"`
	Dataframe        []Column       `yaml:"dataframe"`
	Avatar           string         `yaml:"avatar"`
	AvatarIncludeQR  bool           `yaml:"avatar_include_qr"`
}

// Column is one column of a kitem table.
type Column struct {
	Name   string `yaml:"name"`
	Values []any  `yaml:"values"`
}

// App declares an app configuration. Specification is a mapping or the
// path of a YAML file relative to the manifest.
type App struct {
	Name          string `yaml:"name"`
	Specification any    `yaml:"specification"`
}

// namespace scopes derived kitem ids.
var namespace = uuid.MustParse("8c1d3f0a-6b0e-4f4e-9d0c-5a6e2b7c9f10")

// KItemID returns the declared id or the one derived from type and name.
func (k *KItem) KItemID() (uuid.UUID, error) {
	if k.ID == "" {
		return uuid.NewSHA1(namespace, []byte(k.KType+"/"+k.Name)), nil
	}
	id, err := uuid.Parse(k.ID)
	if err != nil {
		return uuid.Nil, apperr.Invalidf("id", "kitem %q: %q is not a UUID", k.Name, k.ID)
	}
	return id, nil
}

// Parse decodes every document of a YAML stream. Unknown keys are errors.
func Parse(data []byte) ([]Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var out []Manifest
	for {
		var m Manifest
		err := dec.Decode(&m)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("manifest: parse: %w", err)
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Load reads and parses a manifest file.
func Load(path string) ([]Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(data)
}

func (m *Manifest) validate() error {
	for _, kt := range m.KTypes {
		if kt.ID == "" {
			return apperr.Invalidf("ktypes", "a ktype without id")
		}
	}
	for i := range m.KItems {
		k := &m.KItems[i]
		if k.Name == "" || k.KType == "" {
			return apperr.Invalidf("kitems", "kitem %d needs name and ktype_id", i)
		}
		if _, err := k.KItemID(); err != nil {
			return err
		}
	}
	for _, a := range m.Apps {
		if a.Name == "" || a.Specification == nil {
			return apperr.Invalidf("apps", "an app needs name and specification")
		}
	}
	return nil
}
