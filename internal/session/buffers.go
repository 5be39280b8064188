package session

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind tells the commit engine how to synchronize an entity.
type Kind string

const (
	KindKItem     Kind = "kitem"
	KindKType     Kind = "ktype"
	KindAppConfig Kind = "app_config"
)

// Entity is anything that can sit in the change buffers.
type Entity interface {
	// Key identifies the entity within its kind (id for kitems and ktypes,
	// name for app configs).
	Key() string
	Kind() Kind
}

type bufferKey struct {
	kind Kind
	key  string
}

func keyOf(e Entity) bufferKey {
	return bufferKey{kind: e.Kind(), key: e.Key()}
}

type buffer = orderedmap.OrderedMap[bufferKey, Entity]

// Snapshot is a point-in-time copy of the three buffers, each in marking order.
type Snapshot struct {
	Created []Entity
	Updated []Entity
	Deleted []Entity
}

// Empty reports whether nothing is staged.
func (s Snapshot) Empty() bool {
	return len(s.Created) == 0 && len(s.Updated) == 0 && len(s.Deleted) == 0
}

// Buffers stages created, updated and deleted entities until the next commit.
//
// An entity is never in created and deleted at the same time. Marking only
// touches the maps, so it is safe to call from inside setters.
type Buffers struct {
	mu      sync.Mutex
	created *buffer
	updated *buffer
	deleted *buffer
}

// NewBuffers returns empty buffers.
func NewBuffers() *Buffers {
	return &Buffers{
		created: orderedmap.New[bufferKey, Entity](),
		updated: orderedmap.New[bufferKey, Entity](),
		deleted: orderedmap.New[bufferKey, Entity](),
	}
}

// MarkCreated stages e for creation and cancels a pending deletion.
func (b *Buffers) MarkCreated(e Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := keyOf(e)
	b.deleted.Delete(k)
	if _, ok := b.created.Get(k); !ok {
		b.created.Set(k, e)
	}
}

// MarkUpdated stages e for an update. Marking twice is a no-op.
func (b *Buffers) MarkUpdated(e Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := keyOf(e)
	if _, ok := b.updated.Get(k); !ok {
		b.updated.Set(k, e)
	}
}

// MarkDeleted stages e for deletion and drops any pending creation or update.
func (b *Buffers) MarkDeleted(e Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := keyOf(e)
	b.created.Delete(k)
	b.updated.Delete(k)
	if _, ok := b.deleted.Get(k); !ok {
		b.deleted.Set(k, e)
	}
}

// IsCreated reports whether e waits for creation.
func (b *Buffers) IsCreated(e Entity) bool { return b.has(b.created, e) }

// IsUpdated reports whether e waits for an update.
func (b *Buffers) IsUpdated(e Entity) bool { return b.has(b.updated, e) }

// IsDeleted reports whether e waits for deletion.
func (b *Buffers) IsDeleted(e Entity) bool { return b.has(b.deleted, e) }

func (b *Buffers) has(m *buffer, e Entity) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := m.Get(keyOf(e))
	return ok
}

// Snapshot copies the buffers without clearing them.
func (b *Buffers) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Created: values(b.created),
		Updated: values(b.updated),
		Deleted: values(b.deleted),
	}
}

// DrainAndClear returns the staged entities and empties all three buffers
// under a single lock.
func (b *Buffers) DrainAndClear() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		Created: values(b.created),
		Updated: values(b.updated),
		Deleted: values(b.deleted),
	}
	b.created = orderedmap.New[bufferKey, Entity]()
	b.updated = orderedmap.New[bufferKey, Entity]()
	b.deleted = orderedmap.New[bufferKey, Entity]()
	return s
}

// Restore puts entities from a failed commit back. Entries staged again
// since the drain keep their newer position.
func (b *Buffers) Restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range s.Deleted {
		k := keyOf(e)
		if _, ok := b.created.Get(k); ok {
			continue
		}
		if _, ok := b.deleted.Get(k); !ok {
			b.deleted.Set(k, e)
		}
	}
	for _, e := range s.Created {
		k := keyOf(e)
		if _, ok := b.deleted.Get(k); ok {
			continue
		}
		if _, ok := b.created.Get(k); !ok {
			b.created.Set(k, e)
		}
	}
	for _, e := range s.Updated {
		k := keyOf(e)
		if _, ok := b.deleted.Get(k); ok {
			continue
		}
		if _, ok := b.updated.Get(k); !ok {
			b.updated.Set(k, e)
		}
	}
}

func values(m *buffer) []Entity {
	out := make([]Entity, 0, m.Len())
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
