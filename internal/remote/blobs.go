package remote

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/starford/dsms/internal/dataframe"
	"github.com/starford/dsms/internal/models"
)

func multipartRequest(method, op, id, field, filename string, content []byte, segments ...string) (request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return request{}, fmt.Errorf("remote: %s: %w", op, err)
	}
	if _, err := part.Write(content); err != nil {
		return request{}, fmt.Errorf("remote: %s: %w", op, err)
	}
	if err := w.Close(); err != nil {
		return request{}, fmt.Errorf("remote: %s: %w", op, err)
	}
	return request{
		method:      method,
		op:          op,
		id:          id,
		segments:    segments,
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	}, nil
}

// UploadAttachment stores content under name.
func (c *Client) UploadAttachment(ctx context.Context, id uuid.UUID, name string, content []byte) error {
	r, err := multipartRequest(http.MethodPut, "upload attachment", id.String(), "dataFile", name, content,
		"api", "knowledge", "attachments", id.String())
	if err != nil {
		return err
	}
	_, err = c.call(ctx, r)
	return err
}

// DownloadAttachment returns the stored content of name.
func (c *Client) DownloadAttachment(ctx context.Context, id uuid.UUID, name string) ([]byte, error) {
	return c.call(ctx, request{method: http.MethodGet, op: "download attachment", id: id.String(),
		segments: []string{"api", "knowledge", "attachments", id.String(), name}})
}

// DeleteAttachment removes name.
func (c *Client) DeleteAttachment(ctx context.Context, id uuid.UUID, name string) error {
	_, err := c.call(ctx, request{method: http.MethodDelete, op: "delete attachment", id: id.String(),
		segments: []string{"api", "knowledge", "attachments", id.String(), name}})
	return err
}

func dataPath(id uuid.UUID, extra ...string) []string {
	return append([]string{"api", "knowledge", "data", id.String()}, extra...)
}

// PutTable replaces the tabular payload.
func (c *Client) PutTable(ctx context.Context, id uuid.UUID, t *dataframe.Table) error {
	r, err := jsonRequest(http.MethodPut, "put dataframe", id.String(), t, dataPath(id)...)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, r)
	return err
}

// ListColumns returns the column descriptors of the tabular payload.
func (c *Client) ListColumns(ctx context.Context, id uuid.UUID) ([]models.Column, error) {
	var out []models.Column
	if err := c.callJSON(ctx, request{method: http.MethodGet, op: "list columns", id: id.String(), segments: dataPath(id)}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetColumn returns the values of one column.
func (c *Client) GetColumn(ctx context.Context, id uuid.UUID, column int) ([]any, error) {
	var out models.ColumnData
	r := request{method: http.MethodGet, op: "get column", id: id.String(), segments: dataPath(id, "column-"+strconv.Itoa(column))}
	if err := c.callJSON(ctx, r, &out); err != nil {
		return nil, err
	}
	return out.Array, nil
}

// DeleteTable removes the tabular payload.
func (c *Client) DeleteTable(ctx context.Context, id uuid.UUID) error {
	_, err := c.call(ctx, request{method: http.MethodDelete, op: "delete dataframe", id: id.String(), segments: dataPath(id)})
	return err
}

func (c *Client) rdfRequest(method, op string, id uuid.UUID) request {
	return request{
		method:   method,
		op:       op,
		id:       id.String(),
		segments: []string{"api", "knowledge", "rdf", id.String()},
		query:    url.Values{"repository": {c.cfg.Repository}},
	}
}

// GetSubgraph returns the stored triples.
func (c *Client) GetSubgraph(ctx context.Context, id uuid.UUID) (string, error) {
	body, err := c.call(ctx, c.rdfRequest(http.MethodGet, "get subgraph", id))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PutSubgraph replaces the stored triples.
func (c *Client) PutSubgraph(ctx context.Context, id uuid.UUID, triples string) error {
	r := c.rdfRequest(http.MethodPut, "put subgraph", id)
	r.body = []byte(triples)
	r.contentType = "application/n-triples"
	_, err := c.call(ctx, r)
	return err
}

// DeleteSubgraph removes the stored triples.
func (c *Client) DeleteSubgraph(ctx context.Context, id uuid.UUID) error {
	_, err := c.call(ctx, c.rdfRequest(http.MethodDelete, "delete subgraph", id))
	return err
}

func avatarPath(id uuid.UUID) []string {
	return []string{"api", "knowledge", "avatar", id.String()}
}

// PutAvatar uploads a PNG avatar.
func (c *Client) PutAvatar(ctx context.Context, id uuid.UUID, image []byte) error {
	r, err := multipartRequest(http.MethodPut, "put avatar", id.String(), "file", "avatar.png", image, avatarPath(id)...)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, r)
	return err
}

// GetAvatar downloads the avatar image.
func (c *Client) GetAvatar(ctx context.Context, id uuid.UUID) ([]byte, error) {
	return c.call(ctx, request{method: http.MethodGet, op: "get avatar", id: id.String(), segments: avatarPath(id)})
}

// DeleteAvatar removes the avatar.
func (c *Client) DeleteAvatar(ctx context.Context, id uuid.UUID) error {
	_, err := c.call(ctx, request{method: http.MethodDelete, op: "delete avatar", id: id.String(), segments: avatarPath(id)})
	return err
}

func specPath(name string) []string {
	return []string{"api", "knowledge", "apps", "argo", "spec", name}
}

// PutAppSpec uploads a YAML workflow specification.
func (c *Client) PutAppSpec(ctx context.Context, name string, spec []byte, overwrite bool) error {
	r, err := multipartRequest(http.MethodPost, "put app spec", name, "def_file", name+".yaml", spec, specPath(name)...)
	if err != nil {
		return err
	}
	r.query = url.Values{"overwrite": {strconv.FormatBool(overwrite)}}
	_, err = c.call(ctx, r)
	return err
}

// GetAppSpec downloads a workflow specification.
func (c *Client) GetAppSpec(ctx context.Context, name string) ([]byte, error) {
	return c.call(ctx, request{method: http.MethodGet, op: "get app spec", id: name, segments: specPath(name)})
}

// DeleteAppSpec removes a workflow specification.
func (c *Client) DeleteAppSpec(ctx context.Context, name string) error {
	_, err := c.call(ctx, request{method: http.MethodDelete, op: "delete app spec", id: name, segments: specPath(name)})
	return err
}

var _ Backend = (*Client)(nil)
