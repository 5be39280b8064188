package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/dataframe"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/remote"
)

func newClient(t *testing.T, srv *httptest.Server, cfg remote.Config) *remote.Client {
	t.Helper()
	cfg.HostURL = srv.URL
	c, err := remote.NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestNewClientRejectsTokenAndPassword(t *testing.T) {
	_, err := remote.NewClient(remote.Config{HostURL: "http://localhost", Token: "t", Username: "u", Password: "p"}, nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	_, err = remote.NewClient(remote.Config{HostURL: "not a url"}, nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestTokenGetsBearerPrefix(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := newClient(t, srv, remote.Config{Token: "abc"})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got != "Bearer abc" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestReauthenticatesOnceOn401(t *testing.T) {
	var issued, calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := issued.Add(1)
		json.NewEncoder(w).Encode(models.Token{Token: "tok" + string(rune('0'+n))})
	})
	mux.HandleFunc("GET /api/knowledge/docs", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newClient(t, srv, remote.Config{Username: "alice", Password: "pw", AutoReauth: true})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if issued.Load() != 2 || calls.Load() != 2 {
		t.Fatalf("issued=%d calls=%d, want 2 and 2", issued.Load(), calls.Load())
	}
}

func TestNoReauthWithoutFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, "expired")
	}))
	defer srv.Close()

	c := newClient(t, srv, remote.Config{Token: "stale"})
	err := c.Ping(context.Background())
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestExpiredJWTRefreshedBeforeRequest(t *testing.T) {
	fresh := "fresh-token"
	var sent string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.Token{Token: fresh})
	})
	mux.HandleFunc("GET /api/knowledge/docs", func(w http.ResponseWriter, r *http.Request) {
		sent = r.Header.Get("Authorization")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newClient(t, srv, remote.Config{Username: "u", Password: "p", AutoReauth: true})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	fresh = signed(t, time.Now().Add(-time.Minute))
	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	fresh = "after-expiry"
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if sent != "Bearer after-expiry" {
		t.Fatalf("Authorization = %q", sent)
	}
}

func TestRemoteErrorCarriesStatus(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such kitem", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(t, srv, remote.Config{})
	_, err := c.GetKItem(context.Background(), id)
	var re *apperr.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if re.Status != http.StatusNotFound || re.ID != id.String() || re.Message != "no such kitem" {
		t.Fatalf("RemoteError = %+v", re)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatal("404 should match ErrNotFound")
	}

	exists, err := c.KItemExists(context.Background(), id)
	if err != nil || exists {
		t.Fatalf("KItemExists = %v, %v", exists, err)
	}
}

func TestConnectivityError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newClient(t, srv, remote.Config{})
	srv.Close()

	if err := c.Ping(context.Background()); !errors.Is(err, apperr.ErrConnectivity) {
		t.Fatalf("err = %v, want connectivity error", err)
	}
}

func TestSlugAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s", r.Method)
		}
		switch r.URL.Path {
		case "/api/knowledge/kitems/dataset/taken":
			w.WriteHeader(http.StatusOK)
		case "/api/knowledge/kitems/dataset/free":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()
	c := newClient(t, srv, remote.Config{})
	ctx := context.Background()

	if ok, err := c.SlugAvailable(ctx, "dataset", "free"); err != nil || !ok {
		t.Fatalf("free = %v, %v", ok, err)
	}
	if ok, err := c.SlugAvailable(ctx, "dataset", "taken"); err != nil || ok {
		t.Fatalf("taken = %v, %v", ok, err)
	}
	if _, err := c.SlugAvailable(ctx, "dataset", "other"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestSearchSendsFuzzyFlag(t *testing.T) {
	var query models.SearchQuery
	var fuzzy string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fuzzy = r.URL.Query().Get("allow_fuzzy")
		json.NewDecoder(r.Body).Decode(&query)
		json.NewEncoder(w).Encode([]models.SearchHit{{Hit: models.KItem{Name: "x"}, Fuzzy: true}})
	}))
	defer srv.Close()
	c := newClient(t, srv, remote.Config{})

	hits, err := c.Search(context.Background(), models.SearchQuery{SearchTerm: "steel", AllowFuzzy: true, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if fuzzy != "true" || query.SearchTerm != "steel" || query.KTypes == nil {
		t.Fatalf("fuzzy=%q query=%+v", fuzzy, query)
	}
	if len(hits) != 1 || !hits[0].Fuzzy {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestUploadAttachmentUsesMultipartField(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/knowledge/attachments/"+id.String() {
			t.Errorf("path = %s", r.URL.Path)
		}
		f, hdr, err := r.FormFile("dataFile")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "a.txt" || string(data) != "hello" {
			t.Errorf("got %s %q", hdr.Filename, data)
		}
	}))
	defer srv.Close()
	c := newClient(t, srv, remote.Config{})

	if err := c.UploadAttachment(context.Background(), id, "a.txt", []byte("hello")); err != nil {
		t.Fatalf("UploadAttachment: %v", err)
	}
}

func TestPutTableKeepsColumnOrder(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
	}))
	defer srv.Close()
	c := newClient(t, srv, remote.Config{})

	tbl, err := dataframe.FromColumns([]string{"z", "a"}, [][]any{{1}, {2}})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.PutTable(context.Background(), uuid.New(), tbl); err != nil {
		t.Fatalf("PutTable: %v", err)
	}
	if body != `{"z":[1],"a":[2]}` {
		t.Fatalf("body = %s", body)
	}
}

func TestListKTypesPath(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		io.WriteString(w, `[{"id":"dataset","name":"Dataset"}]`)
	}))
	defer srv.Close()
	c := newClient(t, srv, remote.Config{})

	kts, err := c.ListKTypes(context.Background())
	if err != nil {
		t.Fatalf("ListKTypes: %v", err)
	}
	if path != "/api/knowledge-type/" || len(kts) != 1 || kts[0].ID != "dataset" {
		t.Fatalf("path=%s kts=%+v", path, kts)
	}
}

func TestSubgraphUsesRepository(t *testing.T) {
	var repo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		repo = r.URL.Query().Get("repository")
		io.WriteString(w, "<a> <b> <c> .\n")
	}))
	defer srv.Close()
	c := newClient(t, srv, remote.Config{Repository: "graphs"})

	triples, err := c.GetSubgraph(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetSubgraph: %v", err)
	}
	if repo != "graphs" || triples != "<a> <b> <c> .\n" {
		t.Fatalf("repo=%s triples=%q", repo, triples)
	}
}
