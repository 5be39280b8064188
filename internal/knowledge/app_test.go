package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/dsms/internal/apperr"
)

const workflow = `apiVersion: argoproj.io/v1alpha1
kind: WorkflowTemplate
metadata:
  generateName: tensile-
spec:
  entrypoint: main
  arguments:
    parameters:
      - name: kitem_id
`

func workflowFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tensile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(workflow), 0o644))
	return path
}

func TestNewAppConfigStagesUnknownSpec(t *testing.T) {
	f := newFixture(t)
	a, err := NewAppConfig(context.Background(), f.sess, AppInput{Name: "tensile-app", Specification: workflowFile(t)})
	require.NoError(t, err)

	assert.True(t, f.sess.Buffers().IsCreated(a))
	assert.True(t, f.sess.Buffers().IsUpdated(a))
	assert.Equal(t, "main", a.Specification()["spec"].(map[string]any)["entrypoint"])

	data, err := a.SpecYAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "generateName: tensile-")
}

func TestNewAppConfigValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := NewAppConfig(ctx, f.sess, AppInput{Name: "tensile app", Specification: map[string]any{}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = NewAppConfig(ctx, f.sess, AppInput{Name: "tensile-app", Specification: "/does/not/exist.yaml"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = NewAppConfig(ctx, f.sess, AppInput{Name: "tensile-app", Specification: 3})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.True(t, f.sess.Buffers().Snapshot().Empty())
}

func TestNewAppConfigComparesStoredSpec(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.Apps["tensile-app"] = []byte(workflow)

	spec := map[string]any{
		"apiVersion": "argoproj.io/v1alpha1",
		"kind":       "WorkflowTemplate",
		"metadata":   map[string]any{"generateName": "tensile-"},
		"spec": map[string]any{
			"entrypoint": "main",
			"arguments": map[string]any{
				"parameters": []any{map[string]any{"name": "kitem_id"}},
			},
		},
	}
	same, err := NewAppConfig(ctx, f.sess, AppInput{Name: "tensile-app", Specification: spec})
	require.NoError(t, err)
	assert.False(t, f.sess.Buffers().IsUpdated(same))
	assert.False(t, f.sess.Buffers().IsCreated(same))

	spec["kind"] = "Workflow"
	changed, err := NewAppConfig(ctx, f.sess, AppInput{Name: "tensile-app", Specification: spec})
	require.NoError(t, err)
	assert.True(t, f.sess.Buffers().IsUpdated(changed))
	assert.False(t, f.sess.Buffers().IsCreated(changed))
}

func TestExposeSDKConfig(t *testing.T) {
	f := newFixture(t)
	a, err := NewAppConfig(context.Background(), f.sess, AppInput{
		Name:            "tensile-app",
		Specification:   workflowFile(t),
		ExposeSDKConfig: true,
	})
	require.NoError(t, err)

	args := a.Specification()["spec"].(map[string]any)["arguments"].(map[string]any)
	params := args["parameters"].([]any)
	require.Len(t, params, 6)
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.(map[string]any)["name"].(string)
	}
	assert.Equal(t, []string{"kitem_id", "request_timeout", "ping", "host_url", "ssl_verify", "kitem_repo"}, names)
	assert.Equal(t, host, params[3].(map[string]any)["value"])
	assert.Equal(t, 120, params[1].(map[string]any)["value"])
}

func TestAppConfigDelete(t *testing.T) {
	f := newFixture(t)
	a, err := NewAppConfig(context.Background(), f.sess, AppInput{Name: "tensile-app", Specification: map[string]any{"kind": "Workflow"}})
	require.NoError(t, err)

	a.Delete()
	assert.True(t, f.sess.Buffers().IsDeleted(a))
	_, ok := f.sess.Lookup(a.Kind(), a.Key())
	assert.False(t, ok)
}
