// Package session holds the live view of one DSMS connection: the registry
// of entities by id, the known types, and the change buffers.
package session

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/starford/dsms/internal/remote"
	"github.com/starford/dsms/internal/units"
)

// Settings are the client switches entity validation and commit read.
type Settings struct {
	HostURL             string
	IndividualSlugs     bool
	StrictValidation    bool
	AutoRefresh         bool
	AlwaysRefetchKTypes bool
	DatetimeLayout      string
	CommitWorkers       int

	// Connection parameters handed to apps that ask for the client config.
	RequestTimeout time.Duration
	Ping           bool
	SSLVerify      bool
	Repository     string
}

// DefaultSettings mirrors the defaults of the client configuration.
func DefaultSettings() Settings {
	return Settings{
		IndividualSlugs:  true,
		StrictValidation: true,
		AutoRefresh:      true,
		DatetimeLayout:   "2006-01-02T15:04:05.999999",
		CommitWorkers:    1,
		RequestTimeout:   120 * time.Second,
		SSLVerify:        true,
		Repository:       "knowledge-items",
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger that receives warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithSettings replaces the default settings.
func WithSettings(st Settings) Option {
	return func(s *Session) { s.settings = st }
}

// WithUnits sets the unit resolver used by numeric custom properties.
func WithUnits(r units.Resolver) Option {
	return func(s *Session) { s.units = r }
}

var active atomic.Pointer[Session]

// Session is one connection to a DSMS backend. Only the most recently
// created session is active; older ones refuse to commit.
type Session struct {
	settings Settings
	backend  remote.Backend
	units    units.Resolver
	logger   *slog.Logger
	buffers  *Buffers

	mu     sync.RWMutex
	items  map[string]Entity
	ktypes *orderedmap.OrderedMap[string, Entity]

	commitMu sync.Mutex
}

// New creates a session and makes it the active one.
func New(backend remote.Backend, opts ...Option) *Session {
	s := &Session{
		settings: DefaultSettings(),
		backend:  backend,
		logger:   slog.Default(),
		buffers:  NewBuffers(),
		items:    make(map[string]Entity),
		ktypes:   orderedmap.New[string, Entity](),
	}
	for _, opt := range opts {
		opt(s)
	}
	active.Store(s)
	return s
}

// Active reports whether s is still the current session.
func (s *Session) Active() bool {
	return active.Load() == s
}

// Current returns the active session, or nil.
func Current() *Session {
	return active.Load()
}

// Settings returns the session settings.
func (s *Session) Settings() Settings { return s.settings }

// Backend returns the remote collaborators.
func (s *Session) Backend() remote.Backend { return s.backend }

// Units returns the unit resolver, possibly nil.
func (s *Session) Units() units.Resolver { return s.units }

// SetUnits installs the unit resolver. Resolvers usually need the session
// itself, so they are attached after New.
func (s *Session) SetUnits(r units.Resolver) { s.units = r }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Buffers returns the change buffers.
func (s *Session) Buffers() *Buffers { return s.buffers }

// Warn emits a user-visible, non-fatal warning.
func (s *Session) Warn(msg string, attrs ...any) {
	s.logger.Warn(msg, attrs...)
}

// Register adds e to the registry, replacing an entry with the same key.
func (s *Session) Register(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[registryKey(e.Kind(), e.Key())] = e
}

// Forget removes e from the registry.
func (s *Session) Forget(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, registryKey(e.Kind(), e.Key()))
}

// Lookup returns the live entity of kind with key.
func (s *Session) Lookup(kind Kind, key string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[registryKey(kind, key)]
	return e, ok
}

// LookupKItem returns the live kitem with id.
func (s *Session) LookupKItem(id uuid.UUID) (Entity, bool) {
	return s.Lookup(KindKItem, id.String())
}

// Entities returns the registered entities of kind.
func (s *Session) Entities(kind Kind) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := string(kind) + ":"
	var out []Entity
	for key, e := range s.items {
		if strings.HasPrefix(key, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// MarkUpdated stages the live kitem with id for an update. Unknown ids are
// ignored: the owner may not be registered yet while it is being built.
func (s *Session) MarkUpdated(id uuid.UUID) {
	if e, ok := s.LookupKItem(id); ok {
		s.buffers.MarkUpdated(e)
	}
}

// KType returns a known type by id.
func (s *Session) KType(id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ktypes.Get(id)
}

// KTypes returns the known types in registration order.
func (s *Session) KTypes() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, s.ktypes.Len())
	for pair := s.ktypes.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// AddKType registers a single type.
func (s *Session) AddKType(kt Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ktypes.Set(kt.Key(), kt)
}

// RemoveKType drops a type from the known types.
func (s *Session) RemoveKType(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ktypes.Delete(id)
}

// ReplaceKTypes swaps the known types for a freshly listed set. Types that
// are staged for creation locally are kept.
func (s *Session) ReplaceKTypes(kts []Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := orderedmap.New[string, Entity]()
	for _, kt := range kts {
		next.Set(kt.Key(), kt)
	}
	for pair := s.ktypes.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := next.Get(pair.Key); ok {
			continue
		}
		if s.buffers.IsCreated(pair.Value) {
			next.Set(pair.Key, pair.Value)
		}
	}
	s.ktypes = next
}

// BeginCommit serializes commits on this session. The returned function
// releases the lock.
func (s *Session) BeginCommit() func() {
	s.commitMu.Lock()
	return s.commitMu.Unlock
}

func registryKey(kind Kind, key string) string {
	return string(kind) + ":" + key
}
