package backend

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/dataframe"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/remote"
)

// TestRemoteClientRoundTrip drives every backend route through the HTTP
// client, authenticating with username and password.
func TestRemoteClientRoundTrip(t *testing.T) {
	auth := &Auth{Enabled: true, Username: "admin", Password: "pw", Secret: []byte("secret")}
	_, h, _ := testEnv(t, auth)
	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", h))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := remote.NewClient(remote.Config{
		HostURL:    srv.URL,
		Username:   "admin",
		Password:   "pw",
		SSLVerify:  true,
		AutoReauth: true,
	}, nil)
	require.NoError(t, err)
	ctx := t.Context()

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.CreateKType(ctx, models.KType{ID: "organization", Name: "Organization"}))
	ktypes, err := c.ListKTypes(ctx)
	require.NoError(t, err)
	require.Len(t, ktypes, 1)

	id := uuid.MustParse(acme)
	require.NoError(t, c.CreateKItem(ctx, models.KItemCreate{ID: acme, Name: "Acme", Slug: "acme-org", KTypeID: "organization"}))
	free, err := c.SlugAvailable(ctx, "organization", "acme-org")
	require.NoError(t, err)
	assert.False(t, free)
	free, err = c.SlugAvailable(ctx, "organization", "other")
	require.NoError(t, err)
	assert.True(t, free)

	require.NoError(t, c.UpdateKItem(ctx, id, map[string]any{
		"summary":                "steel",
		models.AnnotationsToLink: []map[string]any{{"iri": "http://x/steel"}},
	}))
	m, err := c.GetKItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "steel", m.Summary)
	require.Len(t, m.Annotations, 1)

	hits, err := c.Search(ctx, models.SearchQuery{SearchTerm: "Acme", Annotations: []models.Annotation{{IRI: "http://x/steel"}}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, acme, hits[0].Hit.ID)

	require.NoError(t, c.UploadAttachment(ctx, id, "report.txt", []byte("report")))
	content, err := c.DownloadAttachment(ctx, id, "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "report", string(content))

	table, err := dataframe.FromColumns([]string{"strain", "stress"}, [][]any{{0.1, 0.2}, {100, 200}})
	require.NoError(t, err)
	require.NoError(t, c.PutTable(ctx, id, table))
	cols, err := c.ListColumns(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []models.Column{{ColumnID: 0, Name: "strain"}, {ColumnID: 1, Name: "stress"}}, cols)
	values, err := c.GetColumn(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(100), float64(200)}, values)

	require.NoError(t, c.PutSubgraph(ctx, id, "<a> <b> <c> ."))
	triples, err := c.GetSubgraph(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "<a> <b> <c> .", triples)

	require.NoError(t, c.PutAvatar(ctx, id, []byte("\x89PNG")))
	m, err = c.GetKItem(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.AvatarExists)

	require.NoError(t, c.PutAppSpec(ctx, "tensile", []byte("kind: Workflow\n"), false))
	err = c.PutAppSpec(ctx, "tensile", []byte("kind: Workflow\n"), false)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	spec, err := c.GetAppSpec(ctx, "tensile")
	require.NoError(t, err)
	assert.Equal(t, "kind: Workflow\n", string(spec))

	require.NoError(t, c.DeleteKItem(ctx, id))
	exists, err := c.KItemExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = c.GetAvatar(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemoteClientRejectedWithoutCredentials(t *testing.T) {
	auth := &Auth{Enabled: true, Token: "static"}
	_, h, _ := testEnv(t, auth)
	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", h))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := remote.NewClient(remote.Config{HostURL: srv.URL, Token: "wrong"}, nil)
	require.NoError(t, err)
	err = c.Ping(t.Context())
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	c, err = remote.NewClient(remote.Config{HostURL: srv.URL, Token: "static"}, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Ping(t.Context()))
}
