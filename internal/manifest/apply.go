package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/checksum"
	"github.com/starford/dsms/internal/dataframe"
	"github.com/starford/dsms/internal/dsms"
	"github.com/starford/dsms/internal/knowledge"
	"github.com/starford/dsms/internal/webform"
)

// Report summarizes one applied file.
type Report struct {
	Path    string
	KTypes  int
	KItems  int
	Apps    int
	Skipped bool
}

// Applier stages manifests through a client and commits them. It remembers
// the checksum of every applied file and skips unchanged ones.
type Applier struct {
	client *dsms.Client
	logger *slog.Logger

	mu      sync.Mutex
	applied map[string]string
}

// NewApplier creates an applier committing through c.
func NewApplier(c *dsms.Client, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{client: c, logger: logger, applied: make(map[string]string)}
}

// IsManifest reports whether path names a YAML file.
func IsManifest(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return (ext == ".yaml" || ext == ".yml") && !strings.HasPrefix(filepath.Base(path), ".")
}

// Forget drops the remembered checksum of path so the next apply runs.
func (a *Applier) Forget(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.applied, path)
}

// ApplyFile stages every document of path and commits. An unchanged file
// is skipped.
func (a *Applier) ApplyFile(ctx context.Context, path string) (Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rep := Report{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return rep, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	sum := checksum.Sum(data)
	if a.applied[path] == sum {
		rep.Skipped = true
		return rep, nil
	}
	docs, err := Parse(data)
	if err != nil {
		return rep, fmt.Errorf("manifest: %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range docs {
		if err := a.stage(ctx, &docs[i], dir, &rep); err != nil {
			return rep, fmt.Errorf("manifest: %s: %w", path, err)
		}
	}
	if err := a.client.Commit(ctx); err != nil {
		return rep, fmt.Errorf("manifest: %s: %w", path, err)
	}
	a.applied[path] = sum
	a.logger.Info("manifest: applied",
		slog.String("path", path),
		slog.Int("ktypes", rep.KTypes),
		slog.Int("kitems", rep.KItems),
		slog.Int("apps", rep.Apps))
	return rep, nil
}

// ApplyDir applies every manifest directly in dir in name order. A failing
// file does not stop the others.
func (a *Applier) ApplyDir(ctx context.Context, dir string) ([]Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("manifest: read dir %s: %w", dir, err)
	}
	var (
		reports []Report
		errs    []error
	)
	for _, e := range entries {
		if e.IsDir() || !IsManifest(e.Name()) {
			continue
		}
		rep, err := a.ApplyFile(ctx, filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reports = append(reports, rep)
	}
	return reports, errors.Join(errs...)
}

func (a *Applier) stage(ctx context.Context, m *Manifest, dir string, rep *Report) error {
	for i := range m.KTypes {
		if err := a.stageKType(ctx, &m.KTypes[i]); err != nil {
			return err
		}
		rep.KTypes++
	}
	for _, app := range m.Apps {
		spec := app.Specification
		if p, ok := spec.(string); ok && !filepath.IsAbs(p) {
			spec = filepath.Join(dir, p)
		}
		if _, err := a.client.NewApp(ctx, knowledge.AppInput{Name: app.Name, Specification: spec}); err != nil {
			return err
		}
		rep.Apps++
	}
	names := make(map[string]uuid.UUID, len(m.KItems))
	for i := range m.KItems {
		id, _ := m.KItems[i].KItemID()
		names[m.KItems[i].Name] = id
	}
	for i := range m.KItems {
		if err := a.stageKItem(ctx, &m.KItems[i], dir, names); err != nil {
			return err
		}
		rep.KItems++
	}
	return nil
}

func (a *Applier) stageKType(ctx context.Context, spec *KType) error {
	var wf *webform.Webform
	if spec.Webform != nil {
		data, err := json.Marshal(spec.Webform)
		if err != nil {
			return fmt.Errorf("ktype %s: encode webform: %w", spec.ID, err)
		}
		if wf, err = webform.Parse(data); err != nil {
			return fmt.Errorf("ktype %s: %w", spec.ID, err)
		}
	}
	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	kt, err := a.client.KType(ctx, spec.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		_, err = a.client.NewKType(ctx, spec.ID, name, wf)
		return err
	}
	if err != nil {
		return err
	}
	if kt.Name() != name {
		if err := kt.SetName(name); err != nil {
			return err
		}
	}
	if wf != nil && !sameForm(kt.Webform(), wf) {
		return kt.SetWebform(wf)
	}
	return nil
}

func sameForm(a, b *webform.Webform) bool {
	x, errA := json.Marshal(a)
	y, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(x, y)
}

func (a *Applier) stageKItem(ctx context.Context, spec *KItem, dir string, names map[string]uuid.UUID) error {
	id, err := spec.KItemID()
	if err != nil {
		return err
	}
	links := make([]any, 0, len(spec.LinkedKItems))
	for _, ref := range spec.LinkedKItems {
		target, err := uuid.Parse(ref)
		if err != nil {
			var ok bool
			if target, ok = names[ref]; !ok {
				return apperr.Invalidf("linked_kitems", "kitem %q: unknown link %q", spec.Name, ref)
			}
		}
		links = append(links, target)
	}
	attachments := make([]any, 0, len(spec.Attachments))
	for _, p := range spec.Attachments {
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		attachments = append(attachments, p)
	}
	var table *dataframe.Table
	if spec.Dataframe != nil {
		cols := make([]string, len(spec.Dataframe))
		values := make([][]any, len(spec.Dataframe))
		for i, c := range spec.Dataframe {
			cols[i], values[i] = c.Name, c.Values
		}
		if table, err = dataframe.FromColumns(cols, values); err != nil {
			return fmt.Errorf("kitem %q: %w", spec.Name, err)
		}
	}
	avatar := spec.Avatar
	if avatar != "" && !filepath.IsAbs(avatar) {
		avatar = filepath.Join(dir, avatar)
	}

	k, err := a.client.Get(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		in := knowledge.Input{
			ID:              id,
			Name:            spec.Name,
			Slug:            spec.Slug,
			KTypeID:         spec.KType,
			Annotations:     spec.Annotations,
			Attachments:     attachments,
			LinkedKItems:    links,
			Affiliations:    spec.Affiliations,
			Authors:         spec.Authors,
			Contacts:        spec.Contacts,
			ExternalLinks:   spec.ExternalLinks,
			Apps:            spec.Apps,
			UserGroups:      spec.UserGroups,
			Dataframe:       table,
			AvatarFile:      avatar,
			AvatarIncludeQR: spec.AvatarIncludeQR,
		}
		if spec.Summary != nil {
			in.Summary = *spec.Summary
		}
		if spec.CustomProperties != nil {
			in.CustomProperties = spec.CustomProperties
		}
		_, err = a.client.NewKItem(ctx, in)
		return err
	}
	if err != nil {
		return err
	}

	if k.Name() != spec.Name {
		if err := k.SetName(spec.Name); err != nil {
			return err
		}
	}
	if spec.Summary != nil && k.Summary().Text() != *spec.Summary {
		k.SetSummary(*spec.Summary)
	}
	replace := []struct {
		given bool
		apply func() error
	}{
		{spec.Annotations != nil, func() error { return k.Annotations().Replace(spec.Annotations) }},
		{spec.Attachments != nil, func() error { return k.Attachments().Replace(attachments) }},
		{spec.LinkedKItems != nil, func() error { return k.LinkedKItems().Replace(withIncoming(k, links)) }},
		{spec.Affiliations != nil, func() error { return k.Affiliations().Replace(spec.Affiliations) }},
		{spec.Authors != nil, func() error { return k.Authors().Replace(spec.Authors) }},
		{spec.Contacts != nil, func() error { return k.Contacts().Replace(spec.Contacts) }},
		{spec.ExternalLinks != nil, func() error { return k.ExternalLinks().Replace(spec.ExternalLinks) }},
		{spec.Apps != nil, func() error { return k.Apps().Replace(spec.Apps) }},
		{spec.UserGroups != nil, func() error { return k.UserGroups().Replace(spec.UserGroups) }},
	}
	for _, r := range replace {
		if r.given {
			if err := r.apply(); err != nil {
				return fmt.Errorf("kitem %q: %w", spec.Name, err)
			}
		}
	}
	if spec.CustomProperties != nil {
		if err := k.SetCustomProperties(spec.CustomProperties); err != nil {
			return err
		}
	}
	if table != nil {
		k.SetDataframe(table)
	}
	switch {
	case avatar != "" && k.Avatar().File() != avatar:
		return k.Avatar().SetFile(avatar)
	case spec.AvatarIncludeQR && !k.Avatar().IncludeQR():
		return k.Avatar().SetIncludeQR(true)
	}
	return nil
}

// withIncoming keeps the incoming links of k, which a manifest cannot
// declare, next to the declared outgoing ones.
func withIncoming(k *knowledge.KItem, links []any) []any {
	out := slices.Clone(links)
	for _, l := range k.LinkedKItems().Items() {
		if l.IsIncoming {
			out = append(out, l)
		}
	}
	return out
}
