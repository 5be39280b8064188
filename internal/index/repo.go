package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/models"
)

// document is the part of a kitem stored as one JSON column.
type document struct {
	Annotations      []models.Object `json:"annotations"`
	Affiliations     []models.Object `json:"affiliations"`
	Authors          []models.Object `json:"authors"`
	Contacts         []models.Object `json:"contacts"`
	ExternalLinks    []models.Object `json:"external_links"`
	KItemApps        []models.Object `json:"kitem_apps"`
	UserGroups       []models.Object `json:"user_groups"`
	CustomProperties models.Object   `json:"custom_properties,omitempty"`
}

func documentOf(m *models.KItem) document {
	return document{
		Annotations:      m.Annotations,
		Affiliations:     m.Affiliations,
		Authors:          m.Authors,
		Contacts:         m.Contacts,
		ExternalLinks:    m.ExternalLinks,
		KItemApps:        m.KItemApps,
		UserGroups:       m.UserGroups,
		CustomProperties: m.CustomProperties,
	}
}

func (d document) apply(m *models.KItem) {
	m.Annotations = nonNil(d.Annotations)
	m.Affiliations = nonNil(d.Affiliations)
	m.Authors = nonNil(d.Authors)
	m.Contacts = nonNil(d.Contacts)
	m.ExternalLinks = nonNil(d.ExternalLinks)
	m.KItemApps = nonNil(d.KItemApps)
	m.UserGroups = nonNil(d.UserGroups)
	m.CustomProperties = d.CustomProperties
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// outgoing returns the ids the kitem links to, skipping incoming links.
func outgoing(m *models.KItem) []string {
	var ids []string
	for _, l := range m.LinkedKItems {
		if in, _ := l["is_incoming"].(bool); in {
			continue
		}
		if id, ok := l["id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// CreateKItem inserts a new kitem. An existing id yields
// apperr.ErrAlreadyExists, a slug taken within the type apperr.ErrConflict.
func (db *DB) CreateKItem(m *models.KItem) error {
	if _, err := db.GetKItem(m.ID); err == nil {
		return fmt.Errorf("index: create kitem %s: %w", m.ID, apperr.ErrAlreadyExists)
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	doc, _ := json.Marshal(documentOf(m))
	_, err = tx.Exec(`
		INSERT INTO kitems (id, name, slug, ktype_id, summary, avatar_exists, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Name, m.Slug, m.KTypeID, m.Summary, m.AvatarExists, string(doc), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: create kitem %s: %w", m.ID, constraint(err))
	}
	if err := writeLinks(tx, m); err != nil {
		return err
	}
	if err := ftsUpsert(tx, m.ID, m.Name, m.Slug, m.Summary); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveKItem replaces the stored state of an existing kitem.
func (db *DB) SaveKItem(m *models.KItem) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	doc, _ := json.Marshal(documentOf(m))
	res, err := tx.Exec(`
		UPDATE kitems SET
			name          = ?,
			slug          = ?,
			summary       = ?,
			avatar_exists = ?,
			doc           = ?,
			updated_at    = ?
		WHERE id = ?
	`, m.Name, m.Slug, m.Summary, m.AvatarExists, string(doc), m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("index: save kitem %s: %w", m.ID, constraint(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: save kitem %s: %w", m.ID, apperr.ErrNotFound)
	}
	if err := writeLinks(tx, m); err != nil {
		return err
	}
	if err := ftsUpsert(tx, m.ID, m.Name, m.Slug, m.Summary); err != nil {
		return err
	}
	return tx.Commit()
}

// writeLinks replaces the outgoing links of m: delete old then bulk insert.
func writeLinks(tx *sql.Tx, m *models.KItem) error {
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, m.ID); err != nil {
		return fmt.Errorf("index: clear links: %w", err)
	}
	targets := outgoing(m)
	if len(targets) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare link insert: %w", err)
	}
	defer stmt.Close()
	for _, target := range targets {
		if _, err := stmt.Exec(m.ID, target); err != nil {
			return fmt.Errorf("index: insert link: %w", err)
		}
	}
	return nil
}

func constraint(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		if se.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return fmt.Errorf("%w: unknown ktype", apperr.ErrNotFound)
		}
		return fmt.Errorf("%w: %v", apperr.ErrConflict, err)
	}
	return err
}

const kitemColumns = `id, name, slug, ktype_id, summary, avatar_exists, doc, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanKItem(row scanner) (*models.KItem, error) {
	var (
		m   models.KItem
		doc string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Slug, &m.KTypeID, &m.Summary, &m.AvatarExists, &doc, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	var d document
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, fmt.Errorf("index: decode kitem %s: %w", m.ID, err)
	}
	d.apply(&m)
	m.Attachments = []models.Object{}
	m.LinkedKItems = []models.Object{}
	return &m, nil
}

// GetKItem returns a kitem with its outgoing and incoming links resolved.
// Attachments are left empty for the caller to fill from the blob store.
func (db *DB) GetKItem(id string) (*models.KItem, error) {
	m, err := scanKItem(db.conn.QueryRow(`SELECT `+kitemColumns+` FROM kitems WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: get kitem %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get kitem %s: %w", id, err)
	}
	if err := db.resolveLinks(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (db *DB) resolveLinks(m *models.KItem) error {
	rows, err := db.conn.Query(`
		SELECT l.target, COALESCE(k.name, ''), COALESCE(k.slug, ''), COALESCE(k.ktype_id, ''), 0
		FROM links l LEFT JOIN kitems k ON k.id = l.target
		WHERE l.source = ?
		UNION ALL
		SELECT l.source, k.name, k.slug, k.ktype_id, 1
		FROM links l JOIN kitems k ON k.id = l.source
		WHERE l.target = ?
	`, m.ID, m.ID)
	if err != nil {
		return fmt.Errorf("index: links of %s: %w", m.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, name, slug, ktype string
			incoming              bool
		)
		if err := rows.Scan(&id, &name, &slug, &ktype, &incoming); err != nil {
			return err
		}
		m.LinkedKItems = append(m.LinkedKItems, models.Object{
			"id":          id,
			"name":        name,
			"slug":        slug,
			"ktype_id":    ktype,
			"is_incoming": incoming,
		})
	}
	return rows.Err()
}

// ListKItems returns a page of kitems ordered by name.
func (db *DB) ListKItems(limit, offset int) ([]models.KItem, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.Query(`SELECT `+kitemColumns+` FROM kitems ORDER BY name, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("index: list kitems: %w", err)
	}
	defer rows.Close()
	var out []models.KItem
	for rows.Next() {
		m, err := scanKItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := db.resolveLinks(&out[i]); err != nil {
			return nil, err
		}
	}
	return nonNil(out), nil
}

// DeleteKItem removes a kitem, its links in both directions, its table and
// its subgraphs.
func (db *DB) DeleteKItem(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`DELETE FROM kitems WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("index: delete kitem %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: delete kitem %s: %w", id, apperr.ErrNotFound)
	}
	ftsDelete(tx, id)
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ? OR target = ?`, id, id); err != nil {
		return fmt.Errorf("index: delete links of %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM dataframes WHERE kitem_id = ?`, id); err != nil {
		return fmt.Errorf("index: delete table of %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM subgraphs WHERE kitem_id = ?`, id); err != nil {
		return fmt.Errorf("index: delete subgraph of %s: %w", id, err)
	}

	return tx.Commit()
}

// SlugTaken reports whether slug is used by a kitem of the type.
func (db *DB) SlugTaken(ktypeID, slug string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`SELECT count(*) FROM kitems WHERE ktype_id = ? AND slug = ?`, ktypeID, slug).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("index: slug lookup: %w", err)
	}
	return n > 0, nil
}

// Backlinks returns the ids of all kitems linking to target.
func (db *DB) Backlinks(target string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT source FROM links WHERE target = ? ORDER BY source`, target)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
