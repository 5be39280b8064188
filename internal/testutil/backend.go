package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/dataframe"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/remote"
)

// Backend is an in-memory remote.Backend that records every call.
type Backend struct {
	mu sync.Mutex

	KItems      map[uuid.UUID]*models.KItem
	KTypes      map[string]*models.KType
	Attachments map[uuid.UUID]map[string][]byte
	Tables      map[uuid.UUID]*dataframe.Table
	Subgraphs   map[uuid.UUID]string
	Avatars     map[uuid.UUID][]byte
	Apps        map[string][]byte
	Updates     map[uuid.UUID][]map[string]any

	// Fail makes an operation return the error. Keys are either the bare
	// operation ("UpdateKItem") or the operation and its target as recorded
	// by Calls ("UpdateKItem 0b6f...").
	Fail map[string]error

	calls []string
}

var _ remote.Backend = (*Backend)(nil)

// NewBackend returns an empty backend knowing the given types.
func NewBackend(ktypes ...models.KType) *Backend {
	b := &Backend{
		KItems:      make(map[uuid.UUID]*models.KItem),
		KTypes:      make(map[string]*models.KType),
		Attachments: make(map[uuid.UUID]map[string][]byte),
		Tables:      make(map[uuid.UUID]*dataframe.Table),
		Subgraphs:   make(map[uuid.UUID]string),
		Avatars:     make(map[uuid.UUID][]byte),
		Apps:        make(map[string][]byte),
		Updates:     make(map[uuid.UUID][]map[string]any),
		Fail:        make(map[string]error),
	}
	for i := range ktypes {
		kt := ktypes[i]
		b.KTypes[kt.ID] = &kt
	}
	return b
}

// Calls returns the operations performed so far, each as "Op target".
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Reset forgets the recorded calls.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// PutKItem stores m as if it had been created earlier.
func (b *Backend) PutKItem(m models.KItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	normalize(&m)
	b.KItems[uuid.MustParse(m.ID)] = &m
}

func (b *Backend) record(op string, target any) error {
	call := fmt.Sprintf("%s %v", op, target)
	b.calls = append(b.calls, call)
	if err, ok := b.Fail[call]; ok {
		return err
	}
	return b.Fail[op]
}

func notFound(what string, key any) error {
	return &apperr.RemoteError{Op: what, ID: fmt.Sprint(key), Status: http.StatusNotFound, Message: "not found"}
}

func normalize(m *models.KItem) {
	for _, l := range []*[]models.Object{
		&m.Annotations, &m.Attachments, &m.LinkedKItems, &m.Affiliations, &m.Authors,
		&m.Contacts, &m.ExternalLinks, &m.KItemApps, &m.UserGroups,
	} {
		if *l == nil {
			*l = []models.Object{}
		}
	}
}

func (b *Backend) GetKItem(_ context.Context, id uuid.UUID) (*models.KItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("GetKItem", id); err != nil {
		return nil, err
	}
	m, ok := b.KItems[id]
	if !ok {
		return nil, notFound("get kitem", id)
	}
	out := *m
	if len(b.Attachments[id]) > 0 {
		names := make([]string, 0, len(b.Attachments[id]))
		for name := range b.Attachments[id] {
			names = append(names, name)
		}
		sort.Strings(names)
		out.Attachments = make([]models.Object, len(names))
		for i, name := range names {
			out.Attachments[i] = models.Object{"name": name}
		}
	}
	return &out, nil
}

func (b *Backend) ListKItems(_ context.Context, limit, offset int) ([]models.KItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("ListKItems", offset); err != nil {
		return nil, err
	}
	out := make([]models.KItem, 0, len(b.KItems))
	for _, m := range b.KItems {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (b *Backend) KItemExists(_ context.Context, id uuid.UUID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("KItemExists", id); err != nil {
		return false, err
	}
	_, ok := b.KItems[id]
	return ok, nil
}

func (b *Backend) CreateKItem(_ context.Context, in models.KItemCreate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("CreateKItem", in.ID); err != nil {
		return err
	}
	id, err := uuid.Parse(in.ID)
	if err != nil {
		return &apperr.RemoteError{Op: "create kitem", ID: in.ID, Status: http.StatusUnprocessableEntity, Message: err.Error()}
	}
	if _, ok := b.KItems[id]; ok {
		return &apperr.RemoteError{Op: "create kitem", ID: in.ID, Status: http.StatusConflict, Message: "already exists"}
	}
	m := &models.KItem{ID: in.ID, Name: in.Name, Slug: in.Slug, KTypeID: in.KTypeID}
	normalize(m)
	b.KItems[id] = m
	return nil
}

func (b *Backend) UpdateKItem(_ context.Context, id uuid.UUID, payload map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("UpdateKItem", id); err != nil {
		return err
	}
	m, ok := b.KItems[id]
	if !ok {
		return notFound("update kitem", id)
	}
	b.Updates[id] = append(b.Updates[id], payload)
	return m.ApplyUpdate(payload)
}

func (b *Backend) DeleteKItem(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("DeleteKItem", id); err != nil {
		return err
	}
	if _, ok := b.KItems[id]; !ok {
		return notFound("delete kitem", id)
	}
	delete(b.KItems, id)
	delete(b.Attachments, id)
	delete(b.Avatars, id)
	return nil
}

func (b *Backend) SlugAvailable(_ context.Context, ktypeID, slug string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("SlugAvailable", slug); err != nil {
		return false, err
	}
	for _, m := range b.KItems {
		if m.KTypeID == ktypeID && m.Slug == slug {
			return false, nil
		}
	}
	return true, nil
}

func (b *Backend) Search(_ context.Context, q models.SearchQuery) ([]models.SearchHit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("Search", q.SearchTerm); err != nil {
		return nil, err
	}
	var hits []models.SearchHit
	for _, m := range b.KItems {
		if len(q.KTypes) > 0 && !contains(q.KTypes, m.KTypeID) {
			continue
		}
		if q.SearchTerm != "" && m.Name != q.SearchTerm {
			continue
		}
		hits = append(hits, models.SearchHit{Hit: *m})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Hit.Name < hits[j].Hit.Name })
	return hits, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (b *Backend) ListKTypes(context.Context) ([]models.KType, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("ListKTypes", ""); err != nil {
		return nil, err
	}
	out := make([]models.KType, 0, len(b.KTypes))
	for _, kt := range b.KTypes {
		out = append(out, *kt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Backend) GetKType(_ context.Context, id string) (*models.KType, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("GetKType", id); err != nil {
		return nil, err
	}
	kt, ok := b.KTypes[id]
	if !ok {
		return nil, notFound("get ktype", id)
	}
	out := *kt
	return &out, nil
}

func (b *Backend) CreateKType(_ context.Context, kt models.KType) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("CreateKType", kt.ID); err != nil {
		return err
	}
	b.KTypes[kt.ID] = &models.KType{ID: kt.ID, Name: kt.Name}
	return nil
}

func (b *Backend) UpdateKType(_ context.Context, kt models.KType) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("UpdateKType", kt.ID); err != nil {
		return err
	}
	if _, ok := b.KTypes[kt.ID]; !ok {
		return notFound("update ktype", kt.ID)
	}
	b.KTypes[kt.ID] = &kt
	return nil
}

func (b *Backend) DeleteKType(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("DeleteKType", id); err != nil {
		return err
	}
	delete(b.KTypes, id)
	return nil
}

func (b *Backend) UploadAttachment(_ context.Context, id uuid.UUID, name string, content []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("UploadAttachment", name); err != nil {
		return err
	}
	if b.Attachments[id] == nil {
		b.Attachments[id] = make(map[string][]byte)
	}
	b.Attachments[id][name] = append([]byte(nil), content...)
	return nil
}

func (b *Backend) DownloadAttachment(_ context.Context, id uuid.UUID, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("DownloadAttachment", name); err != nil {
		return nil, err
	}
	data, ok := b.Attachments[id][name]
	if !ok {
		return nil, notFound("download attachment", name)
	}
	return data, nil
}

func (b *Backend) DeleteAttachment(_ context.Context, id uuid.UUID, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("DeleteAttachment", name); err != nil {
		return err
	}
	delete(b.Attachments[id], name)
	return nil
}

func (b *Backend) PutTable(_ context.Context, id uuid.UUID, t *dataframe.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("PutTable", id); err != nil {
		return err
	}
	b.Tables[id] = t
	return nil
}

func (b *Backend) ListColumns(_ context.Context, id uuid.UUID) ([]models.Column, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("ListColumns", id); err != nil {
		return nil, err
	}
	t, ok := b.Tables[id]
	if !ok {
		return nil, notFound("list columns", id)
	}
	names := t.Names()
	out := make([]models.Column, len(names))
	for i, name := range names {
		out[i] = models.Column{ColumnID: i, Name: name}
	}
	return out, nil
}

func (b *Backend) GetColumn(_ context.Context, id uuid.UUID, column int) ([]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("GetColumn", column); err != nil {
		return nil, err
	}
	t, ok := b.Tables[id]
	if !ok || column < 0 || column >= len(t.Names()) {
		return nil, notFound("get column", column)
	}
	values, _ := t.Column(t.Names()[column])
	return values, nil
}

func (b *Backend) DeleteTable(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("DeleteTable", id); err != nil {
		return err
	}
	if _, ok := b.Tables[id]; !ok {
		return notFound("delete table", id)
	}
	delete(b.Tables, id)
	return nil
}

func (b *Backend) GetSubgraph(_ context.Context, id uuid.UUID) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("GetSubgraph", id); err != nil {
		return "", err
	}
	g, ok := b.Subgraphs[id]
	if !ok {
		return "", notFound("get subgraph", id)
	}
	return g, nil
}

func (b *Backend) PutSubgraph(_ context.Context, id uuid.UUID, triples string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("PutSubgraph", id); err != nil {
		return err
	}
	b.Subgraphs[id] = triples
	return nil
}

func (b *Backend) DeleteSubgraph(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("DeleteSubgraph", id); err != nil {
		return err
	}
	delete(b.Subgraphs, id)
	return nil
}

func (b *Backend) PutAvatar(_ context.Context, id uuid.UUID, image []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("PutAvatar", id); err != nil {
		return err
	}
	b.Avatars[id] = image
	if m, ok := b.KItems[id]; ok {
		m.AvatarExists = true
	}
	return nil
}

func (b *Backend) GetAvatar(_ context.Context, id uuid.UUID) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("GetAvatar", id); err != nil {
		return nil, err
	}
	img, ok := b.Avatars[id]
	if !ok {
		return nil, notFound("get avatar", id)
	}
	return img, nil
}

func (b *Backend) DeleteAvatar(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("DeleteAvatar", id); err != nil {
		return err
	}
	delete(b.Avatars, id)
	if m, ok := b.KItems[id]; ok {
		m.AvatarExists = false
	}
	return nil
}

func (b *Backend) PutAppSpec(_ context.Context, name string, spec []byte, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("PutAppSpec", name); err != nil {
		return err
	}
	if _, ok := b.Apps[name]; ok && !overwrite {
		return &apperr.RemoteError{Op: "put app", ID: name, Status: http.StatusConflict, Message: "already exists"}
	}
	b.Apps[name] = spec
	return nil
}

func (b *Backend) GetAppSpec(_ context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("GetAppSpec", name); err != nil {
		return nil, err
	}
	spec, ok := b.Apps[name]
	if !ok {
		return nil, notFound("get app", name)
	}
	return spec, nil
}

func (b *Backend) DeleteAppSpec(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("DeleteAppSpec", name); err != nil {
		return err
	}
	delete(b.Apps, name)
	return nil
}

func (b *Backend) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.record("Ping", "")
}
