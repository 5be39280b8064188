//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE on the kitems columns.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _, _ string) error {
	// Searchable columns already live in the kitems table.
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// Search returns the ids of kitems whose name, slug or summary contains
// term, restricted to ktypes when given, ordered by name.
func (db *DB) Search(term string, ktypes []string) ([]string, error) {
	query := `SELECT id FROM kitems WHERE (name LIKE ? OR slug LIKE ? OR summary LIKE ?)`
	like := "%" + term + "%"
	args := []any{like, like, like}
	if len(ktypes) > 0 {
		query += ` AND ktype_id IN (` + placeholders(len(ktypes)) + `)`
		for _, kt := range ktypes {
			args = append(args, kt)
		}
	}
	query += ` ORDER BY name, id`
	return db.ids(query, args...)
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
