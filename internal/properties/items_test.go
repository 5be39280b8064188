package properties

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/dsms/internal/apperr"
)

type fakeEntity struct {
	id uuid.UUID
}

func (f fakeEntity) ID() uuid.UUID   { return f.id }
func (f fakeEntity) Name() string    { return "Other" }
func (f fakeEntity) Slug() string    { return "other" }
func (f fakeEntity) KTypeID() string { return "organization" }

func TestCoerceLinkedKItemProjectsEntities(t *testing.T) {
	id := uuid.New()

	link, err := CoerceLinkedKItem(fakeEntity{id: id})
	require.NoError(t, err)
	assert.Equal(t, LinkedKItem{ID: id, Name: "Other", Slug: "other", KTypeID: "organization"}, *link)

	link, err = CoerceLinkedKItem(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, link.ID)

	link, err = CoerceLinkedKItem(map[string]any{"id": id.String(), "is_incoming": true})
	require.NoError(t, err)
	assert.True(t, link.IsIncoming)

	_, err = CoerceLinkedKItem("nope")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCoerceAttachmentFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))

	a, err := CoerceAttachment(path)
	require.NoError(t, err)
	assert.Equal(t, "report.csv", a.Name)
	assert.True(t, a.HasContent())

	a, err = CoerceAttachment("remote-only.pdf")
	require.NoError(t, err)
	assert.Equal(t, "remote-only.pdf", a.Name)
	assert.False(t, a.HasContent())
}

func TestCoerceContactValidatesEmail(t *testing.T) {
	_, err := CoerceContact(map[string]any{"name": "Jo", "email": "not-an-email"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	c, err := CoerceContact(map[string]any{"name": "Jo", "email": "jo@example.org"})
	require.NoError(t, err)
	assert.Equal(t, "jo@example.org", c.Email)
}

func TestCoerceExternalLink(t *testing.T) {
	_, err := CoerceExternalLink(map[string]any{"label": "docs", "url": "::"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	l, err := CoerceExternalLink(ExternalLink{Label: "docs", URL: "https://example.org/docs"})
	require.NoError(t, err)
	assert.Equal(t, "docs", l.Label)
}

func TestCoerceAppExtensions(t *testing.T) {
	raw := map[string]any{
		"executable": "ml.argo.yaml",
		"title":      "Train",
		"additional_properties": map[string]any{
			"triggerUponUpload":               true,
			"triggerUponUploadFileExtensions": []any{"csv"},
		},
	}
	_, err := CoerceApp(raw)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	raw["additional_properties"].(map[string]any)["triggerUponUploadFileExtensions"] = []any{".csv"}
	app, err := CoerceApp(raw)
	require.NoError(t, err)
	assert.True(t, app.AdditionalProperties.TriggerUponUpload)
}

func TestCoerceAcceptsYAMLMaps(t *testing.T) {
	g, err := CoerceUserGroup(map[any]any{"name": "admins", "group_id": "g1"})
	require.NoError(t, err)
	assert.Equal(t, "admins", g.Name)
}

func TestCoercedItemsAreCopies(t *testing.T) {
	orig := &Affiliation{Name: "BAM"}
	l := NewList(CoerceAffiliation)
	require.NoError(t, l.Append(orig))
	l.SetOwner(uuid.New())

	assert.Equal(t, uuid.Nil, orig.Owner())
	assert.NotSame(t, orig, l.At(0))
}
