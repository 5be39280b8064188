package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/starford/dsms/internal/dataframe"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/session"
)

// QRSize is the edge length in pixels of generated QR avatars.
const QRSize = 256

// Fetch returns the kitem with id. A kitem that is already live in sess is
// returned as is; otherwise it is loaded from the backend and registered
// without being staged.
func Fetch(ctx context.Context, sess *session.Session, id uuid.UUID) (*KItem, error) {
	if e, ok := sess.LookupKItem(id); ok {
		if k, ok := e.(*KItem); ok {
			return k, nil
		}
	}
	m, err := sess.Backend().GetKItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("knowledge: get kitem %s: %w", id, err)
	}
	return FromModel(ctx, sess, m)
}

// FromModel registers a kitem built from its wire form without staging it.
func FromModel(ctx context.Context, sess *session.Session, m *models.KItem) (*KItem, error) {
	k := newKItem(sess)
	if err := k.Reload(ctx, m, false); err != nil {
		return nil, err
	}
	sess.Register(k)
	return k, nil
}

// Reload replaces the local state with m without marking anything. With
// keepAttachments set the attachment list is left alone.
func (k *KItem) Reload(ctx context.Context, m *models.KItem, keepAttachments bool) error {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return invalid("id", fmt.Errorf("%q is not a uuid", m.ID))
	}
	kt, err := LookupKType(ctx, k.sess, m.KTypeID)
	if err != nil {
		return err
	}
	createdAt, err := parseTime(k.sess, "created_at", m.CreatedAt)
	if err != nil {
		return err
	}
	updatedAt, err := parseTime(k.sess, "updated_at", m.UpdatedAt)
	if err != nil {
		return err
	}

	k.id, k.name, k.slug = id, m.Name, m.Slug
	k.ktypeID, k.ktype = kt.ID(), kt
	k.createdAt, k.updatedAt = createdAt, updatedAt
	k.avatarExists = m.AvatarExists
	k.summary.Load(m.Summary)

	loads := []struct {
		field string
		load  func([]any) error
		objs  []models.Object
		skip  bool
	}{
		{"annotations", k.annotations.Load, m.Annotations, false},
		{"attachments", k.attachments.Load, m.Attachments, keepAttachments},
		{"linked_kitems", k.linkedKItems.Load, m.LinkedKItems, false},
		{"affiliations", k.affiliations.Load, m.Affiliations, false},
		{"authors", k.authors.Load, m.Authors, false},
		{"contacts", k.contacts.Load, m.Contacts, false},
		{"external_links", k.externalLinks.Load, m.ExternalLinks, false},
		{"kitem_apps", k.apps.Load, m.KItemApps, false},
		{"user_groups", k.userGroups.Load, m.UserGroups, false},
	}
	for _, l := range loads {
		if l.skip {
			continue
		}
		if err := l.load(objects(l.objs)); err != nil {
			return fmt.Errorf("knowledge: kitem %s: %s: %w", m.ID, l.field, err)
		}
	}

	var custom any
	if len(m.CustomProperties) > 0 {
		custom = map[string]any(m.CustomProperties)
	}
	if k.custom, err = k.buildCustom(custom, false); err != nil {
		return err
	}

	k.table, k.tableTouched, k.tableLoaded = nil, false, false
	k.stampOwner()
	return nil
}

func objects(in []models.Object) []any {
	out := make([]any, len(in))
	for i, o := range in {
		out[i] = map[string]any(o)
	}
	return out
}

// Refresh reloads the kitem from the backend.
func (k *KItem) Refresh(ctx context.Context, keepAttachments bool) error {
	m, err := k.sess.Backend().GetKItem(ctx, k.id)
	if err != nil {
		return fmt.Errorf("knowledge: refresh kitem %s: %w", k.id, err)
	}
	return k.Reload(ctx, m, keepAttachments)
}

// Dataframe returns the tabular payload, loading it from the backend on
// first use. A kitem without one yields nil.
func (k *KItem) Dataframe(ctx context.Context) (*dataframe.Table, error) {
	if k.tableLoaded {
		return k.table, nil
	}
	cols, err := k.sess.Backend().ListColumns(ctx, k.id)
	if err != nil {
		if isNotFound(err) {
			k.tableLoaded = true
			return nil, nil
		}
		return nil, fmt.Errorf("knowledge: dataframe of %s: %w", k.id, err)
	}
	names := make([]string, len(cols))
	values := make([][]any, len(cols))
	for i, c := range cols {
		names[i] = c.Name
		if values[i], err = k.sess.Backend().GetColumn(ctx, k.id, c.ColumnID); err != nil {
			return nil, fmt.Errorf("knowledge: column %q of %s: %w", c.Name, k.id, err)
		}
	}
	t, err := dataframe.FromColumns(names, values)
	if err != nil {
		return nil, err
	}
	k.table, k.tableLoaded = t, true
	return t, nil
}

// DataframeCommitted records that the pending table reached the backend.
func (k *KItem) DataframeCommitted() { k.tableTouched = false }

// Subgraph returns the semantic subgraph stored for the kitem.
func (k *KItem) Subgraph(ctx context.Context) (string, error) {
	g, err := k.sess.Backend().GetSubgraph(ctx, k.id)
	if err != nil {
		return "", fmt.Errorf("knowledge: subgraph of %s: %w", k.id, err)
	}
	return g, nil
}

// SetSubgraph stores triples as the semantic subgraph of the kitem. An empty
// string removes it.
func (k *KItem) SetSubgraph(ctx context.Context, triples string) error {
	var err error
	if triples == "" {
		err = k.sess.Backend().DeleteSubgraph(ctx, k.id)
	} else {
		err = k.sess.Backend().PutSubgraph(ctx, k.id, triples)
	}
	if err != nil {
		return fmt.Errorf("knowledge: store subgraph of %s: %w", k.id, err)
	}
	return nil
}

// DownloadAttachment reads back an uploaded attachment.
func (k *KItem) DownloadAttachment(ctx context.Context, name string) ([]byte, error) {
	if !k.hasAttachment(name) {
		return nil, invalid("attachments", fmt.Errorf("no attachment named %q", name))
	}
	data, err := k.sess.Backend().DownloadAttachment(ctx, k.id, name)
	if err != nil {
		return nil, fmt.Errorf("knowledge: download %q of %s: %w", name, k.id, err)
	}
	return data, nil
}

func (k *KItem) hasAttachment(name string) bool {
	for _, a := range k.attachments.Items() {
		if a.Name == name {
			return true
		}
	}
	return false
}

// AvatarImage renders the pending avatar as PNG. It returns nil when no
// avatar is configured.
func (k *KItem) AvatarImage() ([]byte, error) {
	switch {
	case k.avatar.IncludeQR():
		img, err := qrcode.Encode(k.URL(), qrcode.Medium, QRSize)
		if err != nil {
			return nil, fmt.Errorf("knowledge: qr code for %s: %w", k.id, err)
		}
		return img, nil
	case k.avatar.File() != "":
		f, err := os.Open(k.avatar.File())
		if err != nil {
			return nil, fmt.Errorf("knowledge: avatar of %s: %w", k.id, err)
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		if err != nil {
			return nil, invalid("avatar", fmt.Errorf("decode %s: %w", k.avatar.File(), err))
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("knowledge: encode avatar of %s: %w", k.id, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, nil
	}
}

// AvatarCommitted records that the avatar reached the backend.
func (k *KItem) AvatarCommitted() {
	k.avatar.Committed()
	k.avatarExists = true
}

// UpdateFields returns the part of the update payload that is sent whole:
// the scalar fields, the affiliation, author and contact lists, external
// links as a label-to-url mapping and the custom properties content.
func (k *KItem) UpdateFields() (map[string]any, error) {
	links := make(map[string]string, k.externalLinks.Len())
	for _, l := range k.externalLinks.Items() {
		links[l.Label] = l.URL
	}
	out := map[string]any{
		"name":           k.name,
		"slug":           k.slug,
		"summary":        k.summary.Text(),
		"external_links": links,
	}
	whole := []struct {
		field string
		src   interface {
			Objects() ([]map[string]any, error)
		}
	}{
		{"affiliations", k.affiliations},
		{"authors", k.authors},
		{"contacts", k.contacts},
	}
	for _, w := range whole {
		objs, err := w.src.Objects()
		if err != nil {
			return nil, fmt.Errorf("knowledge: encode %s of %s: %w", w.field, k.id, err)
		}
		out[w.field] = objs
	}
	if k.custom != nil {
		out["custom_properties"] = map[string]any{"content": k.custom.Content()}
	}
	return out, nil
}

// ToModel returns the wire form of the kitem.
func (k *KItem) ToModel() (*models.KItem, error) {
	m := &models.KItem{
		ID:           k.id.String(),
		Name:         k.name,
		Slug:         k.slug,
		KTypeID:      k.ktypeID,
		Summary:      k.summary.Text(),
		AvatarExists: k.avatarExists,
		CreatedAt:    k.formatTime(k.createdAt),
		UpdatedAt:    k.formatTime(k.updatedAt),
	}
	lists := []struct {
		dst *[]models.Object
		src interface {
			Objects() ([]map[string]any, error)
		}
	}{
		{&m.Annotations, k.annotations},
		{&m.Attachments, k.attachments},
		{&m.LinkedKItems, k.linkedKItems},
		{&m.Affiliations, k.affiliations},
		{&m.Authors, k.authors},
		{&m.Contacts, k.contacts},
		{&m.ExternalLinks, k.externalLinks},
		{&m.KItemApps, k.apps},
		{&m.UserGroups, k.userGroups},
	}
	for _, l := range lists {
		objs, err := l.src.Objects()
		if err != nil {
			return nil, fmt.Errorf("knowledge: encode kitem %s: %w", k.id, err)
		}
		*l.dst = make([]models.Object, len(objs))
		for i, o := range objs {
			(*l.dst)[i] = o
		}
	}
	if k.custom != nil {
		m.CustomProperties = models.Object{"content": k.custom.Content()}
	}
	return m, nil
}

func (k *KItem) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(k.sess.Settings().DatetimeLayout)
}

// MarshalJSON encodes the wire form of the kitem.
func (k *KItem) MarshalJSON() ([]byte, error) {
	m, err := k.ToModel()
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
