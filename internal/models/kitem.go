// Package models defines the wire representation of DSMS resources shared by
// the HTTP client and the local backend.
package models

import "encoding/json"

// Object is a loosely typed JSON object, used for nested collections whose
// shape is owned by the client-side property types.
type Object = map[string]any

// KItem is a knowledge item as returned by GET api/knowledge/kitems/{id}.
type KItem struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Slug             string   `json:"slug"`
	KTypeID          string   `json:"ktype_id"`
	Summary          string   `json:"summary,omitempty"`
	AvatarExists     bool     `json:"avatar_exists"`
	CreatedAt        string   `json:"created_at,omitempty"`
	UpdatedAt        string   `json:"updated_at,omitempty"`
	Annotations      []Object `json:"annotations"`
	Attachments      []Object `json:"attachments"`
	LinkedKItems     []Object `json:"linked_kitems"`
	Affiliations     []Object `json:"affiliations"`
	Authors          []Object `json:"authors"`
	Contacts         []Object `json:"contacts"`
	ExternalLinks    []Object `json:"external_links"`
	KItemApps        []Object `json:"kitem_apps"`
	UserGroups       []Object `json:"user_groups"`
	CustomProperties Object   `json:"custom_properties,omitempty"`
	Dataframe        []Column `json:"dataframe,omitempty"`
}

// KItemCreate is the minimal body of POST api/knowledge/kitems.
type KItemCreate struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	KTypeID string `json:"ktype_id"`
}

// KType is a knowledge type descriptor.
type KType struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Webform    json.RawMessage `json:"webform,omitempty"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
	UpdatedAt  string          `json:"updated_at,omitempty"`
}

// Annotation is a semantic annotation used as a search filter.
type Annotation struct {
	IRI       string `json:"iri"`
	Label     string `json:"label"`
	Namespace string `json:"namespace"`
}

// SearchQuery is the body of POST api/knowledge/kitems/search.
type SearchQuery struct {
	SearchTerm  string       `json:"search_term"`
	KTypes      []string     `json:"ktypes"`
	Annotations []Annotation `json:"annotations"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
	AllowFuzzy  bool         `json:"-"`
}

// SearchHit is one search result.
type SearchHit struct {
	Hit   KItem `json:"hit"`
	Fuzzy bool  `json:"fuzzy"`
}

// Column describes one column of a kitem's tabular payload.
type Column struct {
	ColumnID int    `json:"column_id"`
	Name     string `json:"name"`
}

// ColumnData is the body of GET api/knowledge/data/{id}/column-{n}.
type ColumnData struct {
	Array []any `json:"array"`
}

// Token is the body of GET api/users/token.
type Token struct {
	Token string `json:"token"`
}

// Event is a change notification published by the backend.
type Event struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Type string `json:"ktype_id,omitempty"`
}
