package index

import (
	"errors"
	"os"
	"testing"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "dsms-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.UpsertKType(models.KType{ID: "organization", Name: "Organization"}); err != nil {
		t.Fatalf("UpsertKType: %v", err)
	}
	return db
}

const (
	acme  = "6f1c8a0e-3f9a-4c7e-9b59-0d6c1a7b2f01"
	beta  = "6f1c8a0e-3f9a-4c7e-9b59-0d6c1a7b2f02"
	gamma = "6f1c8a0e-3f9a-4c7e-9b59-0d6c1a7b2f03"
)

func kitem(id, name string, links ...string) *models.KItem {
	m := &models.KItem{ID: id, Name: name, Slug: name + "-slug", KTypeID: "organization"}
	for _, l := range links {
		m.LinkedKItems = append(m.LinkedKItems, models.Object{"id": l})
	}
	return m
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"ktypes", "kitems", "links", "dataframes", "subgraphs", "app_specs"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestCreateAndGetKItem(t *testing.T) {
	db := testDB(t)
	m := kitem(acme, "acme")
	m.Summary = "steel supplier"
	m.Annotations = []models.Object{{"iri": "http://x/acme", "label": "acme", "namespace": "http://x"}}
	m.CustomProperties = models.Object{"content": map[string]any{"sections": []any{}}}
	if err := db.CreateKItem(m); err != nil {
		t.Fatalf("CreateKItem: %v", err)
	}
	got, err := db.GetKItem(acme)
	if err != nil {
		t.Fatalf("GetKItem: %v", err)
	}
	if got.Name != "acme" || got.Summary != "steel supplier" || got.KTypeID != "organization" {
		t.Errorf("got = %+v", got)
	}
	if len(got.Annotations) != 1 || got.Annotations[0]["iri"] != "http://x/acme" {
		t.Errorf("annotations = %v", got.Annotations)
	}
	if got.Authors == nil || got.LinkedKItems == nil || got.Attachments == nil {
		t.Error("collections should be empty, not nil")
	}
	if got.CustomProperties == nil {
		t.Error("custom properties lost")
	}
}

func TestCreateKItemConflicts(t *testing.T) {
	db := testDB(t)
	if err := db.CreateKItem(kitem(acme, "acme")); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateKItem(kitem(acme, "other")); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("same id: err = %v, want ErrAlreadyExists", err)
	}
	if err := db.CreateKItem(kitem(beta, "acme")); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("same slug: err = %v, want ErrConflict", err)
	}
	m := kitem(gamma, "gamma")
	m.KTypeID = "unknown"
	if err := db.CreateKItem(m); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown ktype: err = %v, want ErrNotFound", err)
	}
}

func TestLinksResolveBothDirections(t *testing.T) {
	db := testDB(t)
	_ = db.CreateKItem(kitem(beta, "beta"))
	if err := db.CreateKItem(kitem(acme, "acme", beta)); err != nil {
		t.Fatal(err)
	}

	a, _ := db.GetKItem(acme)
	if len(a.LinkedKItems) != 1 || a.LinkedKItems[0]["id"] != beta || a.LinkedKItems[0]["is_incoming"] != false {
		t.Errorf("acme links = %v", a.LinkedKItems)
	}
	if a.LinkedKItems[0]["name"] != "beta" {
		t.Errorf("target name not resolved: %v", a.LinkedKItems[0])
	}
	b, _ := db.GetKItem(beta)
	if len(b.LinkedKItems) != 1 || b.LinkedKItems[0]["id"] != acme || b.LinkedKItems[0]["is_incoming"] != true {
		t.Errorf("beta links = %v", b.LinkedKItems)
	}

	bl, err := db.Backlinks(beta)
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(bl) != 1 || bl[0] != acme {
		t.Errorf("backlinks = %v", bl)
	}
}

func TestSaveKItemReplacesLinks(t *testing.T) {
	db := testDB(t)
	_ = db.CreateKItem(kitem(beta, "beta"))
	_ = db.CreateKItem(kitem(gamma, "gamma"))
	_ = db.CreateKItem(kitem(acme, "acme", beta))

	m, _ := db.GetKItem(acme)
	m.LinkedKItems = []models.Object{{"id": gamma}}
	m.Summary = "moved"
	if err := db.SaveKItem(m); err != nil {
		t.Fatalf("SaveKItem: %v", err)
	}
	if bl, _ := db.Backlinks(beta); len(bl) != 0 {
		t.Error("old link should be removed on save")
	}
	if bl, _ := db.Backlinks(gamma); len(bl) != 1 {
		t.Error("new link should exist")
	}

	// Incoming links sent back by a client are not stored as outgoing.
	g, _ := db.GetKItem(gamma)
	if err := db.SaveKItem(g); err != nil {
		t.Fatal(err)
	}
	if bl, _ := db.Backlinks(acme); len(bl) != 0 {
		t.Errorf("incoming link stored as outgoing: %v", bl)
	}

	if err := db.SaveKItem(kitem("missing", "missing")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteKItem(t *testing.T) {
	db := testDB(t)
	_ = db.CreateKItem(kitem(beta, "beta"))
	_ = db.CreateKItem(kitem(acme, "acme", beta))
	_ = db.PutDataframe(acme, []byte(`{"x":[1]}`))
	_ = db.PutSubgraph(acme, "knowledge-items", "<a> <b> <c> .")

	if err := db.DeleteKItem(acme); err != nil {
		t.Fatalf("DeleteKItem: %v", err)
	}
	if _, err := db.GetKItem(acme); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if bl, _ := db.Backlinks(beta); len(bl) != 0 {
		t.Errorf("expected 0 backlinks after delete, got %d", len(bl))
	}
	if _, err := db.GetDataframe(acme); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("dataframe should be removed")
	}
	if _, err := db.GetSubgraph(acme, "knowledge-items"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("subgraph should be removed")
	}
	if err := db.DeleteKItem(acme); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
}

func TestDeleteKItemRollsBackOnCleanupError(t *testing.T) {
	db := testDB(t)
	_ = db.CreateKItem(kitem(acme, "acme"))
	if _, err := db.conn.Exec(`DROP TABLE subgraphs`); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteKItem(acme); err == nil {
		t.Fatal("expected error when subgraph cleanup fails")
	}
	if _, err := db.GetKItem(acme); err != nil {
		t.Errorf("kitem should survive the failed delete: %v", err)
	}
}

func TestSlugTaken(t *testing.T) {
	db := testDB(t)
	_ = db.CreateKItem(kitem(acme, "acme"))
	taken, err := db.SlugTaken("organization", "acme-slug")
	if err != nil || !taken {
		t.Errorf("taken = %v, err = %v", taken, err)
	}
	taken, _ = db.SlugTaken("dataset", "acme-slug")
	if taken {
		t.Error("slugs are scoped to their type")
	}
}

func TestListKItemsPaging(t *testing.T) {
	db := testDB(t)
	_ = db.CreateKItem(kitem(gamma, "gamma"))
	_ = db.CreateKItem(kitem(acme, "acme"))
	_ = db.CreateKItem(kitem(beta, "beta"))

	all, err := db.ListKItems(0, 0)
	if err != nil {
		t.Fatalf("ListKItems: %v", err)
	}
	if len(all) != 3 || all[0].Name != "acme" || all[2].Name != "gamma" {
		t.Errorf("all = %v", all)
	}
	page, _ := db.ListKItems(1, 1)
	if len(page) != 1 || page[0].Name != "beta" {
		t.Errorf("page = %v", page)
	}
}

func TestKTypes(t *testing.T) {
	db := testDB(t)
	wf := []byte(`{"sections":[]}`)
	if err := db.UpsertKType(models.KType{ID: "dataset", Name: "Dataset", Webform: wf}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertKType(models.KType{ID: "dataset", Name: "Data Set"}); err != nil {
		t.Fatal(err)
	}
	kt, err := db.GetKType("dataset")
	if err != nil {
		t.Fatalf("GetKType: %v", err)
	}
	if kt.Name != "Data Set" || string(kt.Webform) != string(wf) {
		t.Errorf("kt = %+v", kt)
	}
	list, _ := db.ListKTypes()
	if len(list) != 2 || list[0].ID != "dataset" {
		t.Errorf("list = %v", list)
	}

	_ = db.CreateKItem(kitem(acme, "acme"))
	if err := db.DeleteKType("organization"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if err := db.DeleteKType("dataset"); err != nil {
		t.Errorf("DeleteKType: %v", err)
	}
	if _, err := db.GetKType("dataset"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAppSpecs(t *testing.T) {
	db := testDB(t)
	if err := db.PutAppSpec("tensile", []byte("kind: Workflow\n"), false); err != nil {
		t.Fatal(err)
	}
	if err := db.PutAppSpec("tensile", []byte("kind: Other\n"), false); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
	if err := db.PutAppSpec("tensile", []byte("kind: Other\n"), true); err != nil {
		t.Fatal(err)
	}
	spec, _ := db.GetAppSpec("tensile")
	if string(spec) != "kind: Other\n" {
		t.Errorf("spec = %q", spec)
	}
	if err := db.DeleteAppSpec("tensile"); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteAppSpec("tensile"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertKType(models.KType{ID: "dataset", Name: "Dataset"})
	m := kitem(acme, "acme")
	m.Summary = "uniqueword appears here"
	_ = db.CreateKItem(m)
	d := kitem(beta, "beta")
	d.KTypeID = "dataset"
	d.Summary = "uniqueword again"
	_ = db.CreateKItem(d)

	ids, err := db.Search("uniqueword", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want 2 hits", ids)
	}
	ids, _ = db.Search("uniqueword", []string{"dataset"})
	if len(ids) != 1 || ids[0] != beta {
		t.Errorf("ids = %v, want beta only", ids)
	}
}
