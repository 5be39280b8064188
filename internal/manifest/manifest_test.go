package manifest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/dsms"
	"github.com/starford/dsms/internal/remote"
	"github.com/starford/dsms/internal/testutil"
)

const catalog = `
ktypes:
  - id: material
    name: Material
    webform:
      sections:
        - id: props
          name: Properties
          inputs:
            - id: grade
              label: Grade
              widget: Text
kitems:
  - name: Steel Sheet
    ktype_id: material
    summary: cold rolled
    annotations:
      - iri: http://x/steel
        label: steel
        namespace: http://x
    linked_kitems: [Steel Coil]
    custom_properties:
      grade: S355
    dataframe:
      - name: strain
        values: [0.1, 0.2]
      - name: stress
        values: [100, 200]
  - name: Steel Coil
    ktype_id: material
apps:
  - name: tensile
    specification:
      kind: Workflow
      metadata:
        name: tensile
`

func quiet() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParse(t *testing.T) {
	docs, err := Parse([]byte(catalog + "---\nkitems:\n  - name: Other\n    ktype_id: material\n"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Len(t, docs[0].KTypes, 1)
	assert.Len(t, docs[0].KItems, 2)
	assert.Equal(t, "cold rolled", *docs[0].KItems[0].Summary)
	assert.Nil(t, docs[0].KItems[1].Summary)
	assert.Equal(t, "stress", docs[0].KItems[0].Dataframe[1].Name)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "kitems:\n  - name: a\n    ktype_id: b\n    colour: red\n"},
		{"missing ktype", "kitems:\n  - name: a\n"},
		{"bad id", "kitems:\n  - name: a\n    ktype_id: b\n    id: nope\n"},
		{"app without spec", "apps:\n  - name: a\n"},
		{"ktype without id", "ktypes:\n  - name: a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestDerivedIDsAreStable(t *testing.T) {
	a := KItem{Name: "Steel", KType: "material"}
	b := KItem{Name: "Steel", KType: "material"}
	c := KItem{Name: "Steel", KType: "dataset"}
	ida, _ := a.KItemID()
	idb, _ := b.KItemID()
	idc, _ := c.KItemID()
	assert.Equal(t, ida, idb)
	assert.NotEqual(t, ida, idc)
}

type env struct {
	dir     string
	applier *Applier
	server  *remote.Client
}

func newEnv(t *testing.T) *env {
	t.Helper()
	server := testutil.TestServer(t)
	cfg := dsms.DefaultConfig()
	cfg.HostURL = server.HostURL()
	c, err := dsms.Connect(t.Context(), cfg, dsms.WithLogger(quiet()))
	require.NoError(t, err)
	return &env{dir: t.TempDir(), applier: NewApplier(c, quiet()), server: server}
}

func (e *env) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApplyFile(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	path := e.write(t, "catalog.yaml", catalog)

	rep, err := e.applier.ApplyFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, Report{Path: path, KTypes: 1, KItems: 2, Apps: 1}, rep)

	docs, _ := Parse([]byte(catalog))
	sheetID, _ := docs[0].KItems[0].KItemID()
	coilID, _ := docs[0].KItems[1].KItemID()

	sheet, err := e.server.GetKItem(ctx, sheetID)
	require.NoError(t, err)
	assert.Equal(t, "cold rolled", sheet.Summary)
	require.Len(t, sheet.Annotations, 1)
	require.Len(t, sheet.LinkedKItems, 1)
	assert.Equal(t, coilID.String(), sheet.LinkedKItems[0]["id"])
	require.Len(t, sheet.Dataframe, 2)

	coil, err := e.server.GetKItem(ctx, coilID)
	require.NoError(t, err)
	require.Len(t, coil.LinkedKItems, 1)
	assert.Equal(t, true, coil.LinkedKItems[0]["is_incoming"])

	spec, err := e.server.GetAppSpec(ctx, "tensile")
	require.NoError(t, err)
	assert.Contains(t, string(spec), "Workflow")

	rep, err = e.applier.ApplyFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
}

func TestApplyUpdatesExistingItems(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	path := e.write(t, "catalog.yaml", catalog)
	_, err := e.applier.ApplyFile(ctx, path)
	require.NoError(t, err)

	changed := `
kitems:
  - name: Steel Sheet
    ktype_id: material
    summary: hot rolled
    annotations: []
`
	path = e.write(t, "catalog.yaml", changed)
	rep, err := e.applier.ApplyFile(ctx, path)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)

	docs, _ := Parse([]byte(changed))
	id, _ := docs[0].KItems[0].KItemID()
	sheet, err := e.server.GetKItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hot rolled", sheet.Summary)
	assert.Empty(t, sheet.Annotations)
	assert.Len(t, sheet.LinkedKItems, 1, "links were not declared and stay")
}

func TestApplyDirCollectsErrors(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.yaml", catalog)
	e.write(t, "b.yml", "kitems:\n  - name: x\n")
	e.write(t, "notes.txt", "ignored")

	reports, err := e.applier.ApplyDir(t.Context(), e.dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	require.Len(t, reports, 1)
	assert.Equal(t, filepath.Join(e.dir, "a.yaml"), reports[0].Path)
}

func TestApplyUnknownLink(t *testing.T) {
	e := newEnv(t)
	path := e.write(t, "bad.yaml", "ktypes:\n  - id: material\nkitems:\n  - name: a\n    ktype_id: material\n    linked_kitems: [ghost]\n")
	_, err := e.applier.ApplyFile(t.Context(), path)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatcher_AppliesNewManifest(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, e.applier, e.dir, quiet(), func(kind string, rep Report) {
			mu.Lock()
			events = append(events, kind+":"+filepath.Base(rep.Path))
			mu.Unlock()
		})
	}()
	time.Sleep(100 * time.Millisecond)

	e.write(t, "catalog.yaml", catalog)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := e.server.GetAppSpec(context.Background(), "tensile")
		return err == nil
	}, "manifest not applied by watcher")

	require.NoError(t, os.Remove(filepath.Join(e.dir, "catalog.yaml")))
	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2 && events[0] == "applied:catalog.yaml" && events[1] == "removed:catalog.yaml"
	}, "expected applied then removed events")

	cancel()
	<-done
}
