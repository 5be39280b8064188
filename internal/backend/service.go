// Package backend implements a DSMS-compatible REST backend over the SQLite
// catalog and the file-system blob store.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/dataframe"
	"github.com/starford/dsms/internal/index"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/sse"
	"github.com/starford/dsms/internal/storage"
)

// DefaultRepository is the subgraph repository used when a request names none.
const DefaultRepository = "knowledge-items"

// Publisher receives change notifications.
type Publisher interface {
	PublishChange(resource, kind, id, ktypeID string)
}

type noopPublisher struct{}

func (noopPublisher) PublishChange(string, string, string, string) {}

// Service coordinates catalog and blob operations.
type Service struct {
	db     index.Catalog
	store  storage.Provider
	events Publisher
	logger *slog.Logger
	now    func() time.Time
	layout string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher sends change notifications to p.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithClock overrides the time source of created_at and updated_at.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new backend service.
func NewService(db index.Catalog, store storage.Provider, opts ...ServiceOption) *Service {
	s := &Service{
		db:     db,
		store:  store,
		events: noopPublisher{},
		logger: slog.Default(),
		now:    time.Now,
		layout: "2006-01-02T15:04:05.999999",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) stamp() string {
	return s.now().UTC().Format(s.layout)
}

func parseID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", apperr.Invalidf("id", "%q is not a UUID", id)
	}
	return u.String(), nil
}

// ListKTypes returns every type.
func (s *Service) ListKTypes(_ context.Context) ([]models.KType, error) {
	return s.db.ListKTypes()
}

// GetKType returns one type.
func (s *Service) GetKType(_ context.Context, id string) (*models.KType, error) {
	return s.db.GetKType(id)
}

// CreateKType registers a type by id and name.
func (s *Service) CreateKType(_ context.Context, id, name string) (*models.KType, error) {
	kt := models.KType{ID: id, Name: name}
	if err := validation.ValidateStruct(&kt,
		validation.Field(&kt.ID, validation.Required, validation.Length(1, 128)),
		validation.Field(&kt.Name, validation.Required),
	); err != nil {
		return nil, apperr.Invalid("ktype", err)
	}
	if _, err := s.db.GetKType(id); err == nil {
		return nil, fmt.Errorf("backend: create ktype %s: %w", id, apperr.ErrAlreadyExists)
	}
	kt.CreatedAt = s.stamp()
	kt.UpdatedAt = kt.CreatedAt
	if err := s.db.UpsertKType(kt); err != nil {
		return nil, err
	}
	s.events.PublishChange(sse.ResourceKType, sse.Created, id, "")
	return &kt, nil
}

// UpdateKType replaces the descriptor of an existing type.
func (s *Service) UpdateKType(_ context.Context, kt models.KType) (*models.KType, error) {
	stored, err := s.db.GetKType(kt.ID)
	if err != nil {
		return nil, err
	}
	if len(kt.Webform) > 0 && !json.Valid(kt.Webform) {
		return nil, apperr.Invalidf("webform", "not valid JSON")
	}
	if kt.Name == "" {
		kt.Name = stored.Name
	}
	kt.CreatedAt = stored.CreatedAt
	kt.UpdatedAt = s.stamp()
	if err := s.db.UpsertKType(kt); err != nil {
		return nil, err
	}
	s.events.PublishChange(sse.ResourceKType, sse.Updated, kt.ID, "")
	return s.db.GetKType(kt.ID)
}

// DeleteKType removes a type that no kitem uses.
func (s *Service) DeleteKType(_ context.Context, id string) error {
	if err := s.db.DeleteKType(id); err != nil {
		return err
	}
	s.events.PublishChange(sse.ResourceKType, sse.Deleted, id, "")
	return nil
}

// GetKItem returns a kitem with attachments and table columns filled in.
func (s *Service) GetKItem(_ context.Context, id string) (*models.KItem, error) {
	id, err := parseID(id)
	if err != nil {
		return nil, err
	}
	m, err := s.db.GetKItem(id)
	if err != nil {
		return nil, err
	}
	return m, s.enrich(m)
}

func (s *Service) enrich(m *models.KItem) error {
	blobs, err := s.store.List(storage.AttachmentDir(m.ID))
	if err != nil {
		return err
	}
	m.Attachments = make([]models.Object, len(blobs))
	for i, b := range blobs {
		m.Attachments[i] = models.Object{"name": b.Name}
	}
	cols, err := s.columns(m.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	m.Dataframe = cols
	return nil
}

// ListKItems returns a page of kitems.
func (s *Service) ListKItems(_ context.Context, limit, offset int) ([]models.KItem, error) {
	items, err := s.db.ListKItems(limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if err := s.enrich(&items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// CreateKItem registers the minimal kitem.
func (s *Service) CreateKItem(_ context.Context, in models.KItemCreate) (*models.KItem, error) {
	if err := validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required),
		validation.Field(&in.ID, validation.Required, is.UUID),
		validation.Field(&in.Slug, validation.Required, validation.Length(4, 0)),
		validation.Field(&in.KTypeID, validation.Required),
	); err != nil {
		return nil, apperr.Invalid("kitem", err)
	}
	if _, err := s.db.GetKType(in.KTypeID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Invalidf("ktype_id", "unknown ktype %q", in.KTypeID)
		}
		return nil, err
	}
	id, _ := parseID(in.ID)
	if taken, err := s.db.SlugTaken(in.KTypeID, in.Slug); err != nil {
		return nil, err
	} else if taken {
		return nil, fmt.Errorf("backend: slug %q of ktype %s: %w", in.Slug, in.KTypeID, apperr.ErrConflict)
	}
	now := s.stamp()
	m := &models.KItem{ID: id, Name: in.Name, Slug: in.Slug, KTypeID: in.KTypeID, CreatedAt: now, UpdatedAt: now}
	if err := s.db.CreateKItem(m); err != nil {
		return nil, err
	}
	s.events.PublishChange(sse.ResourceKItem, sse.Created, id, in.KTypeID)
	return m, nil
}

// UpdateKItem applies an update payload: whole fields replace the stored
// values and the fragments link, unlink, add or remove collection entries.
func (s *Service) UpdateKItem(_ context.Context, id string, payload map[string]any) (*models.KItem, error) {
	id, err := parseID(id)
	if err != nil {
		return nil, err
	}
	m, err := s.db.GetKItem(id)
	if err != nil {
		return nil, err
	}
	slug := m.Slug
	if err := m.ApplyUpdate(payload); err != nil {
		return nil, apperr.Invalid("payload", err)
	}
	if m.Slug != slug {
		if taken, err := s.db.SlugTaken(m.KTypeID, m.Slug); err != nil {
			return nil, err
		} else if taken {
			return nil, fmt.Errorf("backend: slug %q of ktype %s: %w", m.Slug, m.KTypeID, apperr.ErrConflict)
		}
	}
	for _, l := range m.LinkedKItems {
		if cast.ToBool(l["is_incoming"]) {
			continue
		}
		target := cast.ToString(l["id"])
		if target == id {
			return nil, apperr.Invalidf("kitems_to_link", "a kitem cannot link to itself")
		}
		if _, err := s.db.GetKItem(target); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, apperr.Invalidf("kitems_to_link", "unknown kitem %s", target)
			}
			return nil, err
		}
	}
	m.UpdatedAt = s.stamp()
	if err := s.db.SaveKItem(m); err != nil {
		return nil, err
	}
	s.events.PublishChange(sse.ResourceKItem, sse.Updated, id, m.KTypeID)
	return m, nil
}

// DeleteKItem removes a kitem together with its blobs.
func (s *Service) DeleteKItem(_ context.Context, id string) error {
	id, err := parseID(id)
	if err != nil {
		return err
	}
	m, err := s.db.GetKItem(id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteKItem(id); err != nil {
		return err
	}
	if err := s.store.DeleteDir(storage.AttachmentDir(id)); err != nil {
		s.logger.Warn("backend: attachments left behind", slog.String("id", id), slog.String("error", err.Error()))
	}
	if err := s.store.Delete(storage.AvatarPath(id)); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn("backend: avatar left behind", slog.String("id", id), slog.String("error", err.Error()))
	}
	s.events.PublishChange(sse.ResourceKItem, sse.Deleted, id, m.KTypeID)
	return nil
}

// SlugTaken reports whether slug is used within the type.
func (s *Service) SlugTaken(_ context.Context, ktypeID, slug string) (bool, error) {
	return s.db.SlugTaken(ktypeID, slug)
}

// Search returns the kitems matching q. Annotation filters require every
// given IRI to be present. With allowFuzzy and no exact hit, any single
// word of the term may match and the hits are flagged fuzzy.
func (s *Service) Search(ctx context.Context, q models.SearchQuery, allowFuzzy bool) ([]models.SearchHit, error) {
	hits, err := s.search(ctx, q.SearchTerm, q, false)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && allowFuzzy {
		seen := make(map[string]bool)
		for _, word := range strings.Fields(q.SearchTerm) {
			more, err := s.search(ctx, word, q, true)
			if err != nil {
				return nil, err
			}
			for _, h := range more {
				if !seen[h.Hit.ID] {
					seen[h.Hit.ID] = true
					hits = append(hits, h)
				}
			}
		}
	}
	return page(hits, q.Limit, q.Offset), nil
}

func (s *Service) search(ctx context.Context, term string, q models.SearchQuery, fuzzy bool) ([]models.SearchHit, error) {
	ids, err := s.db.Search(term, q.KTypes)
	if err != nil {
		return nil, err
	}
	hits := []models.SearchHit{}
	for _, id := range ids {
		m, err := s.GetKItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if !annotated(m, q.Annotations) {
			continue
		}
		hits = append(hits, models.SearchHit{Hit: *m, Fuzzy: fuzzy})
	}
	return hits, nil
}

func annotated(m *models.KItem, want []models.Annotation) bool {
	have := make([]string, len(m.Annotations))
	for i, a := range m.Annotations {
		have[i] = cast.ToString(a["iri"])
	}
	for _, a := range want {
		if !slices.Contains(have, a.IRI) {
			return false
		}
	}
	return true
}

func page[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// requireKItem fails unless the kitem exists.
func (s *Service) requireKItem(id string) (*models.KItem, error) {
	id, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.db.GetKItem(id)
}

// UploadAttachment stores content under name.
func (s *Service) UploadAttachment(_ context.Context, id, name string, content []byte) error {
	m, err := s.requireKItem(id)
	if err != nil {
		return err
	}
	if err := validAttachmentName(name); err != nil {
		return err
	}
	if err := s.store.Write(storage.AttachmentPath(m.ID, name), content); err != nil {
		return err
	}
	s.events.PublishChange(sse.ResourceKItem, sse.Updated, m.ID, m.KTypeID)
	return nil
}

// DownloadAttachment returns the stored content of name.
func (s *Service) DownloadAttachment(_ context.Context, id, name string) ([]byte, error) {
	m, err := s.requireKItem(id)
	if err != nil {
		return nil, err
	}
	if err := validAttachmentName(name); err != nil {
		return nil, err
	}
	return s.store.Read(storage.AttachmentPath(m.ID, name))
}

// DeleteAttachment removes name.
func (s *Service) DeleteAttachment(_ context.Context, id, name string) error {
	m, err := s.requireKItem(id)
	if err != nil {
		return err
	}
	if err := validAttachmentName(name); err != nil {
		return err
	}
	if err := s.store.Delete(storage.AttachmentPath(m.ID, name)); err != nil {
		return err
	}
	s.events.PublishChange(sse.ResourceKItem, sse.Updated, m.ID, m.KTypeID)
	return nil
}

// validAttachmentName accepts plain file names only.
func validAttachmentName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".dsms-tmp-") {
		return apperr.Invalidf("name", "invalid attachment name %q", name)
	}
	return nil
}

// PutDataframe replaces the table of a kitem.
func (s *Service) PutDataframe(_ context.Context, id string, body []byte) error {
	m, err := s.requireKItem(id)
	if err != nil {
		return err
	}
	var t dataframe.Table
	if err := json.Unmarshal(body, &t); err != nil {
		return apperr.Invalid("dataframe", err)
	}
	data, err := json.Marshal(&t)
	if err != nil {
		return err
	}
	return s.db.PutDataframe(m.ID, data)
}

func (s *Service) table(id string) (*dataframe.Table, error) {
	data, err := s.db.GetDataframe(id)
	if err != nil {
		return nil, err
	}
	var t dataframe.Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("backend: decode dataframe %s: %w", id, err)
	}
	return &t, nil
}

func (s *Service) columns(id string) ([]models.Column, error) {
	t, err := s.table(id)
	if err != nil {
		return nil, err
	}
	names := t.Names()
	out := make([]models.Column, len(names))
	for i, name := range names {
		out[i] = models.Column{ColumnID: i, Name: name}
	}
	return out, nil
}

// ListColumns returns the column descriptors of a kitem's table.
func (s *Service) ListColumns(_ context.Context, id string) ([]models.Column, error) {
	m, err := s.requireKItem(id)
	if err != nil {
		return nil, err
	}
	return s.columns(m.ID)
}

// Column returns the values of column n.
func (s *Service) Column(_ context.Context, id string, n int) ([]any, error) {
	m, err := s.requireKItem(id)
	if err != nil {
		return nil, err
	}
	t, err := s.table(m.ID)
	if err != nil {
		return nil, err
	}
	names := t.Names()
	if n < 0 || n >= len(names) {
		return nil, fmt.Errorf("backend: column %d of %s: %w", n, m.ID, apperr.ErrNotFound)
	}
	values, _ := t.Column(names[n])
	return values, nil
}

// DeleteDataframe removes the table of a kitem.
func (s *Service) DeleteDataframe(_ context.Context, id string) error {
	m, err := s.requireKItem(id)
	if err != nil {
		return err
	}
	return s.db.DeleteDataframe(m.ID)
}

func repository(name string) string {
	if name == "" {
		return DefaultRepository
	}
	return name
}

// GetSubgraph returns the triples of a kitem.
func (s *Service) GetSubgraph(_ context.Context, id, repo string) (string, error) {
	m, err := s.requireKItem(id)
	if err != nil {
		return "", err
	}
	return s.db.GetSubgraph(m.ID, repository(repo))
}

// PutSubgraph replaces the triples of a kitem.
func (s *Service) PutSubgraph(_ context.Context, id, repo, triples string) error {
	m, err := s.requireKItem(id)
	if err != nil {
		return err
	}
	return s.db.PutSubgraph(m.ID, repository(repo), triples)
}

// DeleteSubgraph removes the triples of a kitem.
func (s *Service) DeleteSubgraph(_ context.Context, id, repo string) error {
	m, err := s.requireKItem(id)
	if err != nil {
		return err
	}
	return s.db.DeleteSubgraph(m.ID, repository(repo))
}

// PutAvatar stores the avatar image and flags the kitem.
func (s *Service) PutAvatar(_ context.Context, id string, image []byte) error {
	m, err := s.requireKItem(id)
	if err != nil {
		return err
	}
	if err := s.store.Write(storage.AvatarPath(m.ID), image); err != nil {
		return err
	}
	return s.setAvatar(m, true)
}

// GetAvatar returns the avatar image.
func (s *Service) GetAvatar(_ context.Context, id string) ([]byte, error) {
	m, err := s.requireKItem(id)
	if err != nil {
		return nil, err
	}
	return s.store.Read(storage.AvatarPath(m.ID))
}

// DeleteAvatar removes the avatar image.
func (s *Service) DeleteAvatar(_ context.Context, id string) error {
	m, err := s.requireKItem(id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(storage.AvatarPath(m.ID)); err != nil {
		return err
	}
	return s.setAvatar(m, false)
}

func (s *Service) setAvatar(m *models.KItem, exists bool) error {
	m.AvatarExists = exists
	m.UpdatedAt = s.stamp()
	if err := s.db.SaveKItem(m); err != nil {
		return err
	}
	s.events.PublishChange(sse.ResourceKItem, sse.Updated, m.ID, m.KTypeID)
	return nil
}

// PutAppSpec stores a workflow specification.
func (s *Service) PutAppSpec(_ context.Context, name string, spec []byte, overwrite bool) error {
	if err := validation.Validate(name, validation.Required, validation.Length(1, 128)); err != nil {
		return apperr.Invalid("name", err)
	}
	if strings.ContainsAny(name, `/\?#% `) {
		return apperr.Invalidf("name", "%q is not path safe", name)
	}
	kind := sse.Created
	if _, err := s.db.GetAppSpec(name); err == nil {
		kind = sse.Updated
	}
	if err := s.db.PutAppSpec(name, spec, overwrite); err != nil {
		return err
	}
	s.events.PublishChange(sse.ResourceApp, kind, name, "")
	return nil
}

// GetAppSpec returns a workflow specification.
func (s *Service) GetAppSpec(_ context.Context, name string) ([]byte, error) {
	return s.db.GetAppSpec(name)
}

// DeleteAppSpec removes a workflow specification.
func (s *Service) DeleteAppSpec(_ context.Context, name string) error {
	if err := s.db.DeleteAppSpec(name); err != nil {
		return err
	}
	s.events.PublishChange(sse.ResourceApp, sse.Deleted, name, "")
	return nil
}
