// Package properties implements the tracked collections and nested values
// hanging off a kitem. Every mutation marks the owning kitem updated.
package properties

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Tracker receives dirty notifications for an owner id.
type Tracker interface {
	MarkUpdated(id uuid.UUID)
}

// Item is an element of a tracked collection.
type Item interface {
	Owner() uuid.UUID
	SetOwner(id uuid.UUID)
}

// owned is embedded by every item. It is never serialized.
type owned struct {
	owner uuid.UUID
}

// Owner returns the id of the kitem the item belongs to.
func (o *owned) Owner() uuid.UUID { return o.owner }

// SetOwner stamps the owning kitem id.
func (o *owned) SetOwner(id uuid.UUID) { o.owner = id }

// Hooks are collection-specific side effects.
type Hooks[T Item] struct {
	OnAdd    func(item T)
	OnUpdate func(old, item T)
	OnDelete func(item T)
}

// ListOption configures a List.
type ListOption[T Item] func(*List[T])

// WithHooks installs hooks.
func WithHooks[T Item](h Hooks[T]) ListOption[T] {
	return func(l *List[T]) { l.hooks = h }
}

// WithValidator installs a check run on every coerced item before it is
// stored. The collection is left untouched when it fails.
func WithValidator[T Item](fn func(T) error) ListOption[T] {
	return func(l *List[T]) { l.validate = fn }
}

// WithIdentity makes items with the same identity replace each other on
// append instead of accumulating.
func WithIdentity[T Item](fn func(T) string) ListOption[T] {
	return func(l *List[T]) { l.identity = fn }
}

// WithTracker sets the dirty tracker.
func WithTracker[T Item](t Tracker) ListOption[T] {
	return func(l *List[T]) { l.tracker = t }
}

// List is an ordered, homogeneous, dirty-tracking collection.
type List[T Item] struct {
	items    []T
	owner    uuid.UUID
	tracker  Tracker
	coerce   func(any) (T, error)
	validate func(T) error
	identity func(T) string
	hooks    Hooks[T]
}

// NewList creates an empty list that accepts whatever coerce accepts.
func NewList[T Item](coerce func(any) (T, error), opts ...ListOption[T]) *List[T] {
	l := &List[T]{coerce: coerce}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Owner returns the owning kitem id.
func (l *List[T]) Owner() uuid.UUID { return l.owner }

// SetOwner sets the owner and stamps it onto every contained item.
func (l *List[T]) SetOwner(id uuid.UUID) {
	l.owner = id
	for _, it := range l.items {
		it.SetOwner(id)
	}
}

// SetTracker replaces the dirty tracker.
func (l *List[T]) SetTracker(t Tracker) { l.tracker = t }

// Len returns the number of items.
func (l *List[T]) Len() int { return len(l.items) }

// At returns the item at index i.
func (l *List[T]) At(i int) T { return l.items[i] }

// Items returns a copy of the items.
func (l *List[T]) Items() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Append coerces v and adds it at the end.
func (l *List[T]) Append(v any) error {
	item, err := l.prepare(v)
	if err != nil {
		return err
	}
	l.add(item)
	l.touch()
	return nil
}

// Extend coerces every value first and adds them only if all succeed.
func (l *List[T]) Extend(vs ...any) error {
	prepared, err := l.prepareAll(vs)
	if err != nil {
		return err
	}
	for _, item := range prepared {
		l.add(item)
	}
	l.touch()
	return nil
}

// Insert coerces v and inserts it before index i. Indices past the end append.
func (l *List[T]) Insert(i int, v any) error {
	item, err := l.prepare(v)
	if err != nil {
		return err
	}
	if i < 0 {
		i = 0
	}
	if i >= len(l.items) {
		l.add(item)
		l.touch()
		return nil
	}
	l.items = append(l.items, item)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = item
	l.callAdd(item)
	l.touch()
	return nil
}

// Set replaces the item at index i. An index past the end appends.
func (l *List[T]) Set(i int, v any) error {
	item, err := l.prepare(v)
	if err != nil {
		return err
	}
	if i < 0 {
		return fmt.Errorf("properties: index %d out of range", i)
	}
	if i >= len(l.items) {
		l.items = append(l.items, item)
		l.callAdd(item)
		l.touch()
		return nil
	}
	old := l.items[i]
	l.items[i] = item
	if !Equal(old, item) && l.hooks.OnUpdate != nil {
		l.hooks.OnUpdate(old, item)
	}
	l.touch()
	return nil
}

// Pop removes and returns the item at index i.
func (l *List[T]) Pop(i int) (T, error) {
	var zero T
	if i < 0 || i >= len(l.items) {
		return zero, fmt.Errorf("properties: index %d out of range", i)
	}
	item := l.items[i]
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.callDelete(item)
	l.touch()
	return item, nil
}

// Delete removes the item at index i.
func (l *List[T]) Delete(i int) error {
	_, err := l.Pop(i)
	return err
}

// Remove deletes the first item equal to v.
func (l *List[T]) Remove(v any) error {
	target, err := l.coerce(v)
	if err != nil {
		return err
	}
	for i, it := range l.items {
		if Equal(it, target) {
			_, err := l.Pop(i)
			return err
		}
	}
	return fmt.Errorf("properties: %v not in list", v)
}

// Index returns the position of the first item equal to v, or -1.
func (l *List[T]) Index(v any) int {
	target, err := l.coerce(v)
	if err != nil {
		return -1
	}
	for i, it := range l.items {
		if Equal(it, target) {
			return i
		}
	}
	return -1
}

// Replace swaps the whole content for vs and marks the owner once.
func (l *List[T]) Replace(vs []any) error {
	if err := l.Load(vs); err != nil {
		return err
	}
	l.touch()
	return nil
}

// Load swaps the whole content for vs without marking the owner. It is
// used when the state comes from the backend.
func (l *List[T]) Load(vs []any) error {
	prepared, err := l.prepareAll(vs)
	if err != nil {
		return err
	}
	l.items = l.items[:0]
	for _, item := range prepared {
		if l.identity != nil {
			if j := l.find(l.identity(item)); j >= 0 {
				l.items[j] = item
				continue
			}
		}
		l.items = append(l.items, item)
	}
	return nil
}

// Equal reports whether both lists hold equal items in the same order.
func (l *List[T]) Equal(other *List[T]) bool {
	if l.Len() != other.Len() {
		return false
	}
	for i := range l.items {
		if !Equal(l.items[i], other.items[i]) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the items as a JSON array.
func (l *List[T]) MarshalJSON() ([]byte, error) {
	if l.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.items)
}

// Objects returns the serialized items as JSON objects.
func (l *List[T]) Objects() ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(l.items))
	for _, it := range l.items {
		obj, err := toObject(it)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (l *List[T]) prepare(v any) (T, error) {
	item, err := l.coerce(v)
	if err != nil {
		var zero T
		return zero, err
	}
	if l.validate != nil {
		if err := l.validate(item); err != nil {
			var zero T
			return zero, err
		}
	}
	if l.owner != uuid.Nil {
		item.SetOwner(l.owner)
	}
	return item, nil
}

func (l *List[T]) prepareAll(vs []any) ([]T, error) {
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		item, err := l.prepare(v)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (l *List[T]) add(item T) {
	if l.identity != nil {
		if j := l.find(l.identity(item)); j >= 0 {
			old := l.items[j]
			l.items[j] = item
			if !Equal(old, item) && l.hooks.OnUpdate != nil {
				l.hooks.OnUpdate(old, item)
			}
			return
		}
	}
	l.items = append(l.items, item)
	l.callAdd(item)
}

func (l *List[T]) find(id string) int {
	for j, it := range l.items {
		if l.identity(it) == id {
			return j
		}
	}
	return -1
}

func (l *List[T]) callAdd(item T) {
	if l.hooks.OnAdd != nil {
		l.hooks.OnAdd(item)
	}
}

func (l *List[T]) callDelete(item T) {
	if l.hooks.OnDelete != nil {
		l.hooks.OnDelete(item)
	}
}

func (l *List[T]) touch() {
	if l.tracker != nil && l.owner != uuid.Nil {
		l.tracker.MarkUpdated(l.owner)
	}
}

type equaler interface {
	equal(other any) bool
}

// Equal compares two items by their serialized form unless the item type
// defines its own notion of equality.
func Equal(a, b any) bool {
	if e, ok := a.(equaler); ok {
		return e.equal(b)
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func toObject(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
