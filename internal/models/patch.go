package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/spf13/cast"
)

// Fragment names carried by an update payload next to the whole fields.
const (
	AnnotationsToLink   = "annotations_to_link"
	AnnotationsToUnlink = "annotations_to_unlink"
	KItemsToLink        = "kitems_to_link"
	KItemsToUnlink      = "kitems_to_unlink"
	UserGroupsToAdd     = "user_groups_to_add"
	UserGroupsToRemove  = "user_groups_to_remove"
	AppsToUpdate        = "kitem_apps_to_update"
	AppsToRemove        = "kitem_apps_to_remove"
)

// AppIdentityFields are ignored when apps are compared.
var AppIdentityFields = []string{"id", "kitem_app_id"}

// ApplyUpdate merges an update payload into m the way the backend does: whole
// fields replace, fragments add or remove single entries.
func (m *KItem) ApplyUpdate(payload map[string]any) error {
	var p struct {
		Name             *string           `json:"name"`
		Slug             *string           `json:"slug"`
		Summary          *string           `json:"summary"`
		ExternalLinks    map[string]string `json:"external_links"`
		Affiliations     []Object          `json:"affiliations"`
		Authors          []Object          `json:"authors"`
		Contacts         []Object          `json:"contacts"`
		CustomProperties Object            `json:"custom_properties"`

		AnnotationsToLink   []Object `json:"annotations_to_link"`
		AnnotationsToUnlink []Object `json:"annotations_to_unlink"`
		KItemsToLink        []Object `json:"kitems_to_link"`
		KItemsToUnlink      []Object `json:"kitems_to_unlink"`
		UserGroupsToAdd     []Object `json:"user_groups_to_add"`
		UserGroupsToRemove  []Object `json:"user_groups_to_remove"`
		AppsToUpdate        []Object `json:"kitem_apps_to_update"`
		AppsToRemove        []Object `json:"kitem_apps_to_remove"`
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("models: encode update: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("models: decode update: %w", err)
	}

	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Slug != nil {
		m.Slug = *p.Slug
	}
	if p.Summary != nil {
		m.Summary = *p.Summary
	}
	if p.ExternalLinks != nil {
		labels := make([]string, 0, len(p.ExternalLinks))
		for label := range p.ExternalLinks {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		m.ExternalLinks = make([]Object, 0, len(labels))
		for _, label := range labels {
			m.ExternalLinks = append(m.ExternalLinks, Object{"label": label, "url": p.ExternalLinks[label]})
		}
	}
	if p.Affiliations != nil {
		m.Affiliations = p.Affiliations
	}
	if p.Authors != nil {
		m.Authors = p.Authors
	}
	if p.Contacts != nil {
		m.Contacts = p.Contacts
	}
	if p.CustomProperties != nil {
		m.CustomProperties = p.CustomProperties
	}

	m.Annotations = patch(m.Annotations, p.AnnotationsToLink, p.AnnotationsToUnlink, sameKey("iri"))
	m.LinkedKItems = patch(m.LinkedKItems, p.KItemsToLink, p.KItemsToUnlink, sameKey("id"))
	m.UserGroups = patch(m.UserGroups, p.UserGroupsToAdd, p.UserGroupsToRemove, sameKey("group_id"))
	m.KItemApps = patch(m.KItemApps, p.AppsToUpdate, p.AppsToRemove, sameApp)
	next := 1
	for _, app := range m.KItemApps {
		if n := cast.ToInt(app["kitem_app_id"]); n >= next {
			next = n + 1
		}
	}
	for _, app := range m.KItemApps {
		if _, ok := app["kitem_app_id"]; !ok {
			app["kitem_app_id"] = next
			next++
		}
	}
	return nil
}

func patch(have, add, remove []Object, same func(a, b Object) bool) []Object {
	out := slices.DeleteFunc(slices.Clone(have), func(o Object) bool {
		return slices.ContainsFunc(remove, func(r Object) bool { return same(o, r) })
	})
	for _, a := range add {
		if !slices.ContainsFunc(out, func(o Object) bool { return same(o, a) }) {
			out = append(out, a)
		}
	}
	if out == nil {
		out = []Object{}
	}
	return out
}

func sameKey(key string) func(a, b Object) bool {
	return func(a, b Object) bool {
		return fmt.Sprint(a[key]) == fmt.Sprint(b[key])
	}
}

func sameApp(a, b Object) bool {
	return bytes.Equal(canonical(a, AppIdentityFields...), canonical(b, AppIdentityFields...))
}

// canonical encodes o without the given keys. Map keys are sorted by
// encoding/json, so equal objects encode equally.
func canonical(o Object, without ...string) []byte {
	trimmed := make(Object, len(o))
	for k, v := range o {
		if !slices.Contains(without, k) {
			trimmed[k] = v
		}
	}
	data, _ := json.Marshal(trimmed)
	return data
}
