package properties

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/dsms/internal/apperr"
)

type countingTracker struct {
	marks map[uuid.UUID]int
}

func newTracker() *countingTracker {
	return &countingTracker{marks: make(map[uuid.UUID]int)}
}

func (c *countingTracker) MarkUpdated(id uuid.UUID) { c.marks[id]++ }

func annotationMap(label string) map[string]any {
	return map[string]any{"iri": "http://x/" + label, "label": label, "namespace": "n"}
}

func newAnnotations(tr Tracker, owner uuid.UUID, opts ...ListOption[*Annotation]) *List[*Annotation] {
	opts = append(opts, WithTracker[*Annotation](tr))
	l := NewList(CoerceAnnotation, opts...)
	l.SetOwner(owner)
	return l
}

func TestAppendCoercesAndMarks(t *testing.T) {
	tr := newTracker()
	owner := uuid.New()
	l := newAnnotations(tr, owner)

	require.NoError(t, l.Append(annotationMap("l")))

	require.Equal(t, 1, l.Len())
	assert.Equal(t, "http://x/l", l.At(0).IRI)
	assert.Equal(t, owner, l.At(0).Owner())
	assert.Equal(t, 1, tr.marks[owner])
}

func TestAppendRejectsIncompatibleValue(t *testing.T) {
	tr := newTracker()
	owner := uuid.New()
	l := newAnnotations(tr, owner)

	err := l.Append(42)

	var te *TypeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 42, te.Value)
	assert.Contains(t, err.Error(), "*properties.Annotation")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Zero(t, l.Len())
	assert.Zero(t, tr.marks[owner])
}

func TestAppendValidatesFields(t *testing.T) {
	l := newAnnotations(newTracker(), uuid.New())

	err := l.Append(map[string]any{"iri": "not a url", "label": "l", "namespace": "n"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, l.Len())
}

func TestExtendIsAllOrNothing(t *testing.T) {
	tr := newTracker()
	owner := uuid.New()
	l := newAnnotations(tr, owner)

	err := l.Extend(annotationMap("a"), "bogus")
	require.Error(t, err)
	assert.Zero(t, l.Len())

	require.NoError(t, l.Extend(annotationMap("a"), annotationMap("b")))
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 1, tr.marks[owner])
}

func TestDuplicatesAreAllowed(t *testing.T) {
	l := newAnnotations(newTracker(), uuid.New())
	require.NoError(t, l.Append(annotationMap("a")))
	require.NoError(t, l.Append(annotationMap("a")))
	assert.Equal(t, 2, l.Len())
}

func TestInsertKeepsOrder(t *testing.T) {
	l := newAnnotations(newTracker(), uuid.New())
	require.NoError(t, l.Extend(annotationMap("a"), annotationMap("c")))
	require.NoError(t, l.Insert(1, annotationMap("b")))
	require.NoError(t, l.Insert(99, annotationMap("d")))

	var labels []string
	for _, a := range l.Items() {
		labels = append(labels, a.Label)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, labels)
}

func TestSetHooks(t *testing.T) {
	var added, updated, deleted []string
	hooks := Hooks[*Annotation]{
		OnAdd:    func(a *Annotation) { added = append(added, a.Label) },
		OnUpdate: func(old, a *Annotation) { updated = append(updated, old.Label+"->"+a.Label) },
		OnDelete: func(a *Annotation) { deleted = append(deleted, a.Label) },
	}
	l := newAnnotations(newTracker(), uuid.New(), WithHooks(hooks))

	require.NoError(t, l.Append(annotationMap("a")))
	require.NoError(t, l.Set(0, annotationMap("a")))
	require.NoError(t, l.Set(0, annotationMap("b")))
	require.NoError(t, l.Set(5, annotationMap("c")))
	_, err := l.Pop(0)
	require.NoError(t, err)
	require.NoError(t, l.Remove(annotationMap("c")))

	assert.Equal(t, []string{"a", "c"}, added)
	assert.Equal(t, []string{"a->b"}, updated)
	assert.Equal(t, []string{"b", "c"}, deleted)
	assert.Zero(t, l.Len())
}

func TestSetOwnerStampsExistingItems(t *testing.T) {
	tr := newTracker()
	l := NewList(CoerceAnnotation, WithTracker[*Annotation](tr))
	require.NoError(t, l.Extend(annotationMap("a"), annotationMap("b")))
	assert.Empty(t, tr.marks, "no owner yet, nothing to mark")

	owner := uuid.New()
	l.SetOwner(owner)
	for _, a := range l.Items() {
		assert.Equal(t, owner, a.Owner())
	}
}

func TestValidatorLeavesListUnchanged(t *testing.T) {
	self := uuid.New()
	l := NewList(CoerceLinkedKItem, WithValidator(func(link *LinkedKItem) error {
		if link.ID == self {
			return apperr.Invalidf("linked_kitems", "a kitem cannot link to itself")
		}
		return nil
	}))
	l.SetOwner(self)

	err := l.Append(self.String())
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, l.Len())
}

func TestIdentityReplaces(t *testing.T) {
	l := NewList(CoerceAttachment, WithIdentity(AttachmentName))
	require.NoError(t, l.Append(map[string]any{"name": "a.txt", "content": "v1"}))
	require.NoError(t, l.Append(map[string]any{"name": "a.txt", "content": "v2"}))

	require.Equal(t, 1, l.Len())
	assert.Equal(t, []byte("v2"), l.At(0).Content)
}

func TestListEquality(t *testing.T) {
	a := NewList(CoerceAnnotation)
	b := NewList(CoerceAnnotation)
	require.NoError(t, a.Extend(annotationMap("x"), annotationMap("y")))
	require.NoError(t, b.Extend(annotationMap("x"), annotationMap("y")))
	assert.True(t, a.Equal(b))

	require.NoError(t, b.Set(1, annotationMap("z")))
	assert.False(t, a.Equal(b))
}

func TestLoadDoesNotMark(t *testing.T) {
	tr := newTracker()
	owner := uuid.New()
	l := newAnnotations(tr, owner)

	require.NoError(t, l.Load([]any{annotationMap("a")}))
	assert.Zero(t, tr.marks[owner])

	require.NoError(t, l.Replace([]any{annotationMap("b"), annotationMap("c")}))
	assert.Equal(t, 1, tr.marks[owner])
	assert.Equal(t, 2, l.Len())
}

func TestObjects(t *testing.T) {
	l := NewList(CoerceAnnotation)
	require.NoError(t, l.Append(annotationMap("a")))
	l.SetOwner(uuid.New())

	objs, err := l.Objects()
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"iri": "http://x/a", "label": "a", "namespace": "n"}}, objs)
}
