package dsms

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/knowledge"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/testutil"
	"github.com/starford/dsms/internal/webform"
)

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.HostURL = "https://dsms.example.org"
		return cfg
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing host", func(c *Config) { c.HostURL = "" }, true},
		{"bad host", func(c *Config) { c.HostURL = "not a url" }, true},
		{"token and user", func(c *Config) { c.Token = "t"; c.Username = "u"; c.Password = "p" }, true},
		{"user without password", func(c *Config) { c.Username = "u" }, true},
		{"credentials", func(c *Config) { c.Username = "u"; c.Password = "p" }, false},
		{"short timeout", func(c *Config) { c.RequestTimeout = time.Millisecond }, true},
		{"no workers", func(c *Config) { c.CommitWorkers = 0 }, false},
		{"too many workers", func(c *Config) { c.CommitWorkers = 1000 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func materialType(t *testing.T) models.KType {
	t.Helper()
	wf := &webform.Webform{Sections: []webform.Section{{
		ID:   "props",
		Name: "Properties",
		Inputs: []webform.Input{
			{ID: "g", Label: "Grade", Widget: webform.WidgetSelect, SelectOptions: []webform.SelectOption{{Label: "S235"}, {Label: "S355"}}},
		},
	}}}
	form, err := json.Marshal(wf)
	require.NoError(t, err)
	return models.KType{ID: "material", Name: "Material", Webform: form}
}

func connect(t *testing.T, hidden ...string) (*Client, *bytes.Buffer) {
	t.Helper()
	server := testutil.TestServer(t, materialType(t))
	cfg := DefaultConfig()
	cfg.HostURL = server.HostURL()
	cfg.HideProperties = hidden
	logs := &bytes.Buffer{}
	c, err := Connect(t.Context(), cfg, WithLogger(slog.New(slog.NewTextHandler(logs, nil))))
	require.NoError(t, err)
	return c, logs
}

func TestConnectFetchesKTypes(t *testing.T) {
	c, _ := connect(t)
	kts := c.KTypes()
	require.Len(t, kts, 1)
	assert.Equal(t, "material", kts[0].ID())
	assert.Equal(t, 1, kts[0].Schema().Len())
}

func TestConnectFailsWhenBackendIsDown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HostURL = "http://127.0.0.1:1"
	cfg.RequestTimeout = time.Second
	_, err := Connect(t.Context(), cfg)
	assert.ErrorIs(t, err, apperr.ErrConnectivity)
}

func TestCreateSearchDelete(t *testing.T) {
	c, logs := connect(t)
	ctx := t.Context()

	k, err := c.NewKItem(ctx, knowledge.Input{
		Name:             "Steel Sheet",
		KTypeID:          "material",
		Summary:          "cold rolled",
		Annotations:      []any{map[string]any{"iri": "http://x/steel", "label": "steel", "namespace": "http://x"}},
		CustomProperties: map[string]any{"grade": "S355"},
	})
	require.NoError(t, err)
	staged := c.Staged()
	assert.Len(t, staged.Created, 1)
	assert.Len(t, staged.Updated, 1)

	require.NoError(t, c.Commit(ctx))
	assert.True(t, c.Staged().Empty())
	assert.NotContains(t, logs.String(), "nothing staged")

	results, err := c.Search(ctx, SearchQuery{Text: "Steel", Annotations: []string{"http://x/steel"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Same(t, k, results[0].KItem)

	other, err := Open(ctx, c.Session().Backend(), c.Config())
	require.NoError(t, err)
	got, err := other.Get(ctx, k.ID())
	require.NoError(t, err)
	assert.Equal(t, "cold rolled", got.Summary().Text())
	assert.Equal(t, 1, got.Annotations().Len())
	grade, ok := got.CustomProperties().Get("grade")
	require.True(t, ok)
	assert.Equal(t, "S355", grade.Raw())

	assert.ErrorIs(t, c.Commit(ctx), apperr.ErrSessionReplaced)

	other.Delete(got)
	require.NoError(t, other.Commit(ctx))
	_, err = other.Session().Backend().GetKItem(ctx, k.ID())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExportHidesProperties(t *testing.T) {
	c, _ := connect(t, "summary", "custom_properties")
	k, err := c.NewKItem(t.Context(), knowledge.Input{Name: "Plate", KTypeID: "material", Summary: "thick"})
	require.NoError(t, err)

	out, err := c.Export(k)
	require.NoError(t, err)
	assert.Equal(t, "Plate", out["name"])
	assert.NotContains(t, out, "summary")
	assert.NotContains(t, out, "custom_properties")
}

func TestEmptyCommitWarns(t *testing.T) {
	c, logs := connect(t)
	require.NoError(t, c.Commit(t.Context()))
	assert.Contains(t, logs.String(), "nothing staged")
}
