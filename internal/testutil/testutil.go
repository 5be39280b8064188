// Package testutil provides shared test helpers: temporary catalogs and blob
// stores, an in-memory backend and a real backend behind httptest.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/starford/dsms/internal/backend"
	"github.com/starford/dsms/internal/index"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/remote"
	"github.com/starford/dsms/internal/storage"
)

// TestDB creates a temporary SQLite catalog that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "dsms-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary blob store.
func TestStore(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// TestServer starts the local backend with the given types registered and
// returns a client pointed at it.
func TestServer(t *testing.T, ktypes ...models.KType) *remote.Client {
	t.Helper()
	db := TestDB(t)
	for _, kt := range ktypes {
		if err := db.UpsertKType(kt); err != nil {
			t.Fatal(err)
		}
	}
	_, store := TestStore(t)
	svc := backend.NewService(db, store)

	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", backend.NewRouter(svc, nil, nil)))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := remote.NewClient(remote.Config{HostURL: srv.URL, SSLVerify: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}
