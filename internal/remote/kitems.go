package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/models"
)

var kitemsPath = []string{"api", "knowledge", "kitems"}

func kitemPath(extra ...string) []string {
	return append(append([]string{}, kitemsPath...), extra...)
}

// GetKItem fetches one kitem.
func (c *Client) GetKItem(ctx context.Context, id uuid.UUID) (*models.KItem, error) {
	var out models.KItem
	r := request{method: http.MethodGet, op: "get kitem", id: id.String(), segments: kitemPath(id.String())}
	if err := c.callJSON(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListKItems pages through all kitems.
func (c *Client) ListKItems(ctx context.Context, limit, offset int) ([]models.KItem, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var out []models.KItem
	r := request{method: http.MethodGet, op: "list kitems", segments: kitemsPath, query: q}
	if err := c.callJSON(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// KItemExists reports whether the backend knows id.
func (c *Client) KItemExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := c.GetKItem(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateKItem registers the minimal kitem.
func (c *Client) CreateKItem(ctx context.Context, in models.KItemCreate) error {
	r, err := jsonRequest(http.MethodPost, "create kitem", in.ID, in, kitemsPath...)
	if err != nil {
		return err
	}
	return c.callJSON(ctx, r, nil)
}

// UpdateKItem sends the update payload.
func (c *Client) UpdateKItem(ctx context.Context, id uuid.UUID, payload map[string]any) error {
	r, err := jsonRequest(http.MethodPut, "update kitem", id.String(), payload, kitemPath(id.String())...)
	if err != nil {
		return err
	}
	return c.callJSON(ctx, r, nil)
}

// DeleteKItem removes a kitem.
func (c *Client) DeleteKItem(ctx context.Context, id uuid.UUID) error {
	_, err := c.call(ctx, request{method: http.MethodDelete, op: "delete kitem", id: id.String(), segments: kitemPath(id.String())})
	return err
}

// SlugAvailable probes whether slug is free within the type. A 404 means it is.
func (c *Client) SlugAvailable(ctx context.Context, ktypeID, slug string) (bool, error) {
	r := request{method: http.MethodHead, op: "check slug", id: slug, segments: kitemPath(ktypeID, slug)}
	resp, body, err := c.do(ctx, r)
	if err != nil {
		return false, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return true, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	default:
		return false, &apperr.RemoteError{ID: slug, Op: r.op, Status: resp.StatusCode, Message: string(body)}
	}
}

// Search runs a kitem search.
func (c *Client) Search(ctx context.Context, q models.SearchQuery) ([]models.SearchHit, error) {
	if q.KTypes == nil {
		q.KTypes = []string{}
	}
	if q.Annotations == nil {
		q.Annotations = []models.Annotation{}
	}
	r, err := jsonRequest(http.MethodPost, "search", "", q, kitemPath("search")...)
	if err != nil {
		return nil, err
	}
	r.query = url.Values{"allow_fuzzy": {strconv.FormatBool(q.AllowFuzzy)}}
	var out []models.SearchHit
	if err := c.callJSON(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}
