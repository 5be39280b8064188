package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/models"
)

// UpsertKType inserts or replaces a type. Empty webform and schema fields
// keep what is stored.
func (db *DB) UpsertKType(kt models.KType) error {
	_, err := db.conn.Exec(`
		INSERT INTO ktypes (id, name, webform, json_schema, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name        = excluded.name,
			webform     = CASE WHEN excluded.webform = '' THEN ktypes.webform ELSE excluded.webform END,
			json_schema = CASE WHEN excluded.json_schema = '' THEN ktypes.json_schema ELSE excluded.json_schema END,
			updated_at  = excluded.updated_at
	`, kt.ID, kt.Name, raw(kt.Webform), raw(kt.JSONSchema), kt.CreatedAt, kt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert ktype %s: %w", kt.ID, err)
	}
	return nil
}

func raw(m json.RawMessage) string {
	if len(m) == 0 || string(m) == "null" {
		return ""
	}
	return string(m)
}

func scanKType(row scanner) (*models.KType, error) {
	var (
		kt            models.KType
		webform, jsch string
	)
	if err := row.Scan(&kt.ID, &kt.Name, &webform, &jsch, &kt.CreatedAt, &kt.UpdatedAt); err != nil {
		return nil, err
	}
	if webform != "" {
		kt.Webform = json.RawMessage(webform)
	}
	if jsch != "" {
		kt.JSONSchema = json.RawMessage(jsch)
	}
	return &kt, nil
}

const ktypeColumns = `id, name, webform, json_schema, created_at, updated_at`

// GetKType returns one type.
func (db *DB) GetKType(id string) (*models.KType, error) {
	kt, err := scanKType(db.conn.QueryRow(`SELECT `+ktypeColumns+` FROM ktypes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: get ktype %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get ktype %s: %w", id, err)
	}
	return kt, nil
}

// ListKTypes returns every type ordered by id.
func (db *DB) ListKTypes() ([]models.KType, error) {
	rows, err := db.conn.Query(`SELECT ` + ktypeColumns + ` FROM ktypes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("index: list ktypes: %w", err)
	}
	defer rows.Close()
	out := []models.KType{}
	for rows.Next() {
		kt, err := scanKType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *kt)
	}
	return out, rows.Err()
}

// DeleteKType removes a type. A type still used by kitems yields apperr.ErrConflict.
func (db *DB) DeleteKType(id string) error {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM kitems WHERE ktype_id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("index: delete ktype %s: %w", id, err)
	}
	if n > 0 {
		return fmt.Errorf("index: delete ktype %s: %w: %d kitems use it", id, apperr.ErrConflict, n)
	}
	res, err := db.conn.Exec(`DELETE FROM ktypes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("index: delete ktype %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: delete ktype %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// PutDataframe stores the encoded table of a kitem.
func (db *DB) PutDataframe(kitemID string, data []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO dataframes (kitem_id, data) VALUES (?, ?)
		ON CONFLICT(kitem_id) DO UPDATE SET data = excluded.data
	`, kitemID, string(data))
	if err != nil {
		return fmt.Errorf("index: put dataframe %s: %w", kitemID, err)
	}
	return nil
}

// GetDataframe returns the encoded table of a kitem.
func (db *DB) GetDataframe(kitemID string) ([]byte, error) {
	var data string
	err := db.conn.QueryRow(`SELECT data FROM dataframes WHERE kitem_id = ?`, kitemID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: get dataframe %s: %w", kitemID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get dataframe %s: %w", kitemID, err)
	}
	return []byte(data), nil
}

// DeleteDataframe removes the table of a kitem.
func (db *DB) DeleteDataframe(kitemID string) error {
	return deleteOne(db.conn, "dataframe", kitemID, `DELETE FROM dataframes WHERE kitem_id = ?`, kitemID)
}

// PutSubgraph stores the triples of a kitem in repository.
func (db *DB) PutSubgraph(kitemID, repository, triples string) error {
	_, err := db.conn.Exec(`
		INSERT INTO subgraphs (kitem_id, repository, triples) VALUES (?, ?, ?)
		ON CONFLICT(kitem_id, repository) DO UPDATE SET triples = excluded.triples
	`, kitemID, repository, triples)
	if err != nil {
		return fmt.Errorf("index: put subgraph %s: %w", kitemID, err)
	}
	return nil
}

// GetSubgraph returns the triples of a kitem in repository.
func (db *DB) GetSubgraph(kitemID, repository string) (string, error) {
	var triples string
	err := db.conn.QueryRow(`SELECT triples FROM subgraphs WHERE kitem_id = ? AND repository = ?`, kitemID, repository).Scan(&triples)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("index: get subgraph %s: %w", kitemID, apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("index: get subgraph %s: %w", kitemID, err)
	}
	return triples, nil
}

// DeleteSubgraph removes the triples of a kitem in repository.
func (db *DB) DeleteSubgraph(kitemID, repository string) error {
	return deleteOne(db.conn, "subgraph", kitemID, `DELETE FROM subgraphs WHERE kitem_id = ? AND repository = ?`, kitemID, repository)
}

// PutAppSpec stores a workflow specification. An existing spec is only
// replaced with overwrite set; otherwise apperr.ErrAlreadyExists.
func (db *DB) PutAppSpec(name string, spec []byte, overwrite bool) error {
	query := `INSERT INTO app_specs (name, spec) VALUES (?, ?)`
	if overwrite {
		query += ` ON CONFLICT(name) DO UPDATE SET spec = excluded.spec, updated_at = CURRENT_TIMESTAMP`
	}
	if _, err := db.conn.Exec(query, name, spec); err != nil {
		if errors.Is(constraint(err), apperr.ErrConflict) {
			return fmt.Errorf("index: put app spec %s: %w", name, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("index: put app spec %s: %w", name, err)
	}
	return nil
}

// GetAppSpec returns a workflow specification.
func (db *DB) GetAppSpec(name string) ([]byte, error) {
	var spec []byte
	err := db.conn.QueryRow(`SELECT spec FROM app_specs WHERE name = ?`, name).Scan(&spec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: get app spec %s: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get app spec %s: %w", name, err)
	}
	return spec, nil
}

// DeleteAppSpec removes a workflow specification.
func (db *DB) DeleteAppSpec(name string) error {
	return deleteOne(db.conn, "app spec", name, `DELETE FROM app_specs WHERE name = ?`, name)
}

func deleteOne(conn *sql.DB, what, key, query string, args ...any) error {
	res, err := conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("index: delete %s %s: %w", what, key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: delete %s %s: %w", what, key, apperr.ErrNotFound)
	}
	return nil
}
