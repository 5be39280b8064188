//go:build sqlite_fts5

package index

import "testing"

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM kitems_fts`).Scan(&count); err != nil {
		t.Fatalf("kitems_fts table missing: %v", err)
	}
}

func TestFTS5_PrefixSearch(t *testing.T) {
	db := testDB(t)
	m := kitem(acme, "acme")
	m.Summary = "provides powerful tensile testing"
	if err := db.CreateKItem(m); err != nil {
		t.Fatal(err)
	}
	ids, err := db.Search("power", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || ids[0] != acme {
		t.Fatalf("ids = %v", ids)
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	m := kitem(acme, "acme")
	m.Summary = "vanishing content"
	_ = db.CreateKItem(m)
	_ = db.DeleteKItem(acme)

	ids, _ := db.Search("vanishing", nil)
	if len(ids) != 0 {
		t.Errorf("deleted kitem still in FTS index: %v", ids)
	}
}

func TestFTS5_SaveReplacesContent(t *testing.T) {
	db := testDB(t)
	m := kitem(acme, "acme")
	m.Summary = "original text"
	_ = db.CreateKItem(m)
	m.Summary = "replacement text"
	_ = db.SaveKItem(m)

	if ids, _ := db.Search("original", nil); len(ids) != 0 {
		t.Error("old FTS content should be gone")
	}
	if ids, _ := db.Search("replacement", nil); len(ids) != 1 {
		t.Errorf("FTS not updated: %v", ids)
	}
}
