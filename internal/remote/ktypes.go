package remote

import (
	"context"
	"net/http"

	"github.com/starford/dsms/internal/models"
)

var ktypesPath = []string{"api", "knowledge-type/"}

func ktypePath(id string) []string {
	return []string{"api", "knowledge-type", id}
}

// ListKTypes returns every type the backend knows.
func (c *Client) ListKTypes(ctx context.Context) ([]models.KType, error) {
	var out []models.KType
	if err := c.callJSON(ctx, request{method: http.MethodGet, op: "list ktypes", segments: ktypesPath}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetKType fetches one type.
func (c *Client) GetKType(ctx context.Context, id string) (*models.KType, error) {
	var out models.KType
	if err := c.callJSON(ctx, request{method: http.MethodGet, op: "get ktype", id: id, segments: ktypePath(id)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateKType registers a type by name and id.
func (c *Client) CreateKType(ctx context.Context, kt models.KType) error {
	body := struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}{kt.Name, kt.ID}
	r, err := jsonRequest(http.MethodPost, "create ktype", kt.ID, body, ktypesPath...)
	if err != nil {
		return err
	}
	return c.callJSON(ctx, r, nil)
}

// UpdateKType sends the full descriptor.
func (c *Client) UpdateKType(ctx context.Context, kt models.KType) error {
	r, err := jsonRequest(http.MethodPut, "update ktype", kt.ID, kt, ktypePath(kt.ID)...)
	if err != nil {
		return err
	}
	return c.callJSON(ctx, r, nil)
}

// DeleteKType removes a type.
func (c *Client) DeleteKType(ctx context.Context, id string) error {
	_, err := c.call(ctx, request{method: http.MethodDelete, op: "delete ktype", id: id, segments: ktypePath(id)})
	return err
}
