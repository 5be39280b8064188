package session

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionReplacesActive(t *testing.T) {
	first := New(nil)
	assert.True(t, first.Active())

	second := New(nil)
	assert.False(t, first.Active())
	assert.True(t, second.Active())
	assert.Same(t, second, Current())
}

func TestMarkUpdatedByID(t *testing.T) {
	s := New(nil)
	id := uuid.New()
	e := &stubEntity{id: id.String(), kind: KindKItem}

	s.MarkUpdated(id)
	assert.False(t, s.Buffers().IsUpdated(e), "unregistered ids are ignored")

	s.Register(e)
	s.MarkUpdated(id)
	s.MarkUpdated(id)
	assert.True(t, s.Buffers().IsUpdated(e))
	assert.Len(t, s.Buffers().Snapshot().Updated, 1)

	s.Forget(e)
	_, ok := s.LookupKItem(id)
	assert.False(t, ok)
}

func TestReplaceKTypesKeepsLocalCreations(t *testing.T) {
	s := New(nil)
	local := &stubEntity{id: "local-type", kind: KindKType}
	stale := &stubEntity{id: "stale-type", kind: KindKType}
	s.AddKType(local)
	s.AddKType(stale)
	s.Buffers().MarkCreated(local)

	remote := &stubEntity{id: "organization", kind: KindKType}
	s.ReplaceKTypes([]Entity{remote})

	ids := make([]string, 0)
	for _, kt := range s.KTypes() {
		ids = append(ids, kt.Key())
	}
	assert.Equal(t, []string{"organization", "local-type"}, ids)
}

func TestWarnUsesSessionLogger(t *testing.T) {
	var buf bytes.Buffer
	s := New(nil, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	s.Warn("commit: nothing to do")
	require.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "commit: nothing to do")
}
