//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS kitems_fts USING fts5(
			id UNINDEXED,
			name,
			slug,
			summary,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id, name, slug, summary string) error {
	_, _ = tx.Exec(`DELETE FROM kitems_fts WHERE id = ?`, id)
	_, err := tx.Exec(`INSERT INTO kitems_fts (id, name, slug, summary) VALUES (?, ?, ?, ?)`,
		id, name, slug, summary)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM kitems_fts WHERE id = ?`, id)
}

// Search runs an FTS5 prefix query over name, slug and summary, restricted
// to ktypes when given. An empty term lists every kitem by name.
func (db *DB) Search(term string, ktypes []string) ([]string, error) {
	var (
		query string
		args  []any
	)
	if strings.TrimSpace(term) == "" {
		query = `SELECT k.id FROM kitems k WHERE 1 = 1`
	} else {
		query = `SELECT k.id FROM kitems_fts f JOIN kitems k ON k.id = f.id WHERE kitems_fts MATCH ?`
		args = append(args, matchExpr(term))
	}
	if len(ktypes) > 0 {
		query += ` AND k.ktype_id IN (` + placeholders(len(ktypes)) + `)`
		for _, kt := range ktypes {
			args = append(args, kt)
		}
	}
	if strings.TrimSpace(term) != "" {
		query += ` ORDER BY rank`
	} else {
		query += ` ORDER BY k.name, k.id`
	}
	return db.ids(query, args...)
}

// matchExpr quotes each word and makes it a prefix query.
func matchExpr(term string) string {
	words := strings.Fields(term)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"*`
	}
	return strings.Join(words, " ")
}

func (db *DB) ids(query string, args ...any) ([]string, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
