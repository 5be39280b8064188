// Package dsms is the client facade: it connects a session to a backend and
// exposes get, search, construction, deletion and commit.
package dsms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/knowledge"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/reconcile"
	"github.com/starford/dsms/internal/remote"
	"github.com/starford/dsms/internal/session"
	"github.com/starford/dsms/internal/units"
	"github.com/starford/dsms/internal/webform"
)

// Client is one connection to a DSMS backend.
type Client struct {
	cfg     Config
	sess    *session.Session
	backend remote.Backend
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	catalog *units.Catalog
}

// WithLogger sets the logger that receives warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithUnitCatalog extends the unit definitions used for conversions.
func WithUnitCatalog(c *units.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// Connect validates cfg, creates the HTTP client and opens a session on it.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dsms: config: %w", err)
	}
	o := collect(opts)
	backend, err := remote.NewClient(cfg.remote(), o.logger)
	if err != nil {
		return nil, fmt.Errorf("dsms: %w", err)
	}
	return open(ctx, backend, cfg, o)
}

// Open opens a session on an existing backend. cfg is not validated, so
// callers may leave HostURL empty.
func Open(ctx context.Context, backend remote.Backend, cfg Config, opts ...Option) (*Client, error) {
	return open(ctx, backend, cfg, collect(opts))
}

func collect(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func open(ctx context.Context, backend remote.Backend, cfg Config, o options) (*Client, error) {
	if cfg.PingBackend {
		if err := backend.Ping(ctx); err != nil {
			return nil, fmt.Errorf("dsms: ping %s: %w", cfg.HostURL, err)
		}
	}
	sess := session.New(backend, session.WithLogger(o.logger), session.WithSettings(cfg.settings()))
	sess.SetUnits(units.NewService(knowledge.UnitSource(sess), o.catalog))
	c := &Client{cfg: cfg, sess: sess, backend: backend, logger: o.logger}
	if cfg.AutoFetchKTypes {
		if err := knowledge.RefreshKTypes(ctx, sess); err != nil {
			return nil, fmt.Errorf("dsms: fetch ktypes: %w", err)
		}
	}
	return c, nil
}

// Session returns the underlying session.
func (c *Client) Session() *session.Session { return c.sess }

// Config returns the configuration the client was opened with.
func (c *Client) Config() Config { return c.cfg }

// Get returns the kitem with id.
func (c *Client) Get(ctx context.Context, id uuid.UUID) (*knowledge.KItem, error) {
	return knowledge.Fetch(ctx, c.sess, id)
}

// Result is one search hit.
type Result struct {
	KItem *knowledge.KItem
	Fuzzy bool
}

// SearchQuery filters a search. Empty fields do not restrict.
type SearchQuery struct {
	Text        string
	KTypes      []string
	Annotations []string
	Limit       int
	Offset      int
	AllowFuzzy  bool
}

// Search returns the kitems matching q. Hits are registered with the
// session but not staged; a kitem already live is returned as is.
func (c *Client) Search(ctx context.Context, q SearchQuery) ([]Result, error) {
	query := models.SearchQuery{
		SearchTerm: q.Text,
		KTypes:     q.KTypes,
		Limit:      q.Limit,
		Offset:     q.Offset,
		AllowFuzzy: q.AllowFuzzy,
	}
	for _, iri := range q.Annotations {
		query.Annotations = append(query.Annotations, models.Annotation{IRI: iri})
	}
	hits, err := c.backend.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dsms: search: %w", err)
	}
	out := make([]Result, 0, len(hits))
	for i := range hits {
		k, err := c.live(ctx, &hits[i].Hit)
		if err != nil {
			return nil, err
		}
		out = append(out, Result{KItem: k, Fuzzy: hits[i].Fuzzy})
	}
	return out, nil
}

func (c *Client) live(ctx context.Context, m *models.KItem) (*knowledge.KItem, error) {
	if id, err := uuid.Parse(m.ID); err == nil {
		if e, ok := c.sess.LookupKItem(id); ok {
			if k, ok := e.(*knowledge.KItem); ok {
				return k, nil
			}
		}
	}
	return knowledge.FromModel(ctx, c.sess, m)
}

// KTypes returns the known types.
func (c *Client) KTypes() []*knowledge.KType {
	entities := c.sess.KTypes()
	out := make([]*knowledge.KType, 0, len(entities))
	for _, e := range entities {
		if kt, ok := e.(*knowledge.KType); ok {
			out = append(out, kt)
		}
	}
	return out
}

// KType returns the type with id.
func (c *Client) KType(ctx context.Context, id string) (*knowledge.KType, error) {
	return knowledge.LookupKType(ctx, c.sess, id)
}

// RefreshKTypes refetches the known types.
func (c *Client) RefreshKTypes(ctx context.Context) error {
	return knowledge.RefreshKTypes(ctx, c.sess)
}

// NewKItem constructs a kitem. See knowledge.New.
func (c *Client) NewKItem(ctx context.Context, in knowledge.Input) (*knowledge.KItem, error) {
	return knowledge.New(ctx, c.sess, in)
}

// NewKType constructs a type.
func (c *Client) NewKType(ctx context.Context, id, name string, wf *webform.Webform) (*knowledge.KType, error) {
	return knowledge.NewKType(ctx, c.sess, id, name, wf)
}

// NewApp constructs an app configuration.
func (c *Client) NewApp(ctx context.Context, in knowledge.AppInput) (*knowledge.AppConfig, error) {
	return knowledge.NewAppConfig(ctx, c.sess, in)
}

// App loads a stored app configuration.
func (c *Client) App(ctx context.Context, name string) (*knowledge.AppConfig, error) {
	return knowledge.FetchAppConfig(ctx, c.sess, name)
}

// Deletable is an entity that can be staged for deletion.
type Deletable interface {
	session.Entity
	Delete()
}

// Delete stages entities for deletion. Nothing changes remotely until Commit.
func (c *Client) Delete(entities ...Deletable) {
	for _, e := range entities {
		e.Delete()
	}
}

// Staged returns a copy of the buffers.
func (c *Client) Staged() session.Snapshot {
	return c.sess.Buffers().Snapshot()
}

// Commit flushes the buffers to the backend.
func (c *Client) Commit(ctx context.Context) error {
	return reconcile.New(c.sess, reconcile.WithWorkers(c.cfg.CommitWorkers)).Commit(ctx)
}

// Export returns the wire form of k without the configured hidden
// properties.
func (c *Client) Export(k *knowledge.KItem) (map[string]any, error) {
	data, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for key := range out {
		if slices.Contains(c.cfg.HideProperties, key) {
			delete(out, key)
		}
	}
	return out, nil
}
