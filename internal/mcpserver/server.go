// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the DSMS client as tools for LLM integration via stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/dsms/internal/dsms"
	"github.com/starford/dsms/internal/knowledge"
)

// Server wraps the MCP server with DSMS tools. Tool calls share one
// session and run one at a time.
type Server struct {
	mcp    *server.MCPServer
	client *dsms.Client
	mu     sync.Mutex
}

// New creates a new MCP server with all DSMS tools registered.
func New(c *dsms.Client) *Server {
	s := &Server{client: c}

	s.mcp = server.NewMCPServer(
		"DSMS",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_kitems",
		mcp.WithDescription("Full-text search through kitem names, slugs and summaries."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("ktype", mcp.Description("Restrict hits to this ktype id")),
		mcp.WithString("annotation", mcp.Description("Restrict hits to kitems annotated with this IRI")),
		mcp.WithBoolean("allow_fuzzy", mcp.Description("Retry word by word when the exact query has no hits")),
	), s.locked(s.searchKItems))

	s.mcp.AddTool(mcp.NewTool("read_kitem",
		mcp.WithDescription("Read the full JSON form of a kitem, including staged changes."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Kitem UUID")),
	), s.locked(s.readKItem))

	s.mcp.AddTool(mcp.NewTool("create_kitem",
		mcp.WithDescription("Stage a new kitem. Nothing is stored until the commit tool runs. "+
			"Read the contract first via the get_kitem_contract tool or the dsms://kitem-format resource."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Human-readable name")),
		mcp.WithString("ktype_id", mcp.Required(), mcp.Description("Id of an existing ktype (see list_ktypes)")),
		mcp.WithString("summary", mcp.Description("Free-text summary")),
		mcp.WithString("custom_properties", mcp.Description("JSON object of webform field values keyed by name or label")),
	), s.locked(s.createKItem))

	s.mcp.AddTool(mcp.NewTool("annotate_kitem",
		mcp.WithDescription("Stage a semantic annotation on a kitem."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Kitem UUID")),
		mcp.WithString("iri", mcp.Required(), mcp.Description("Absolute IRI of the concept")),
		mcp.WithString("label", mcp.Required(), mcp.Description("Display label")),
		mcp.WithString("namespace", mcp.Required(), mcp.Description("Namespace IRI")),
	), s.locked(s.annotateKItem))

	s.mcp.AddTool(mcp.NewTool("link_kitems",
		mcp.WithDescription("Stage a link from one kitem to another."),
		mcp.WithString("from", mcp.Required(), mcp.Description("UUID of the linking kitem")),
		mcp.WithString("to", mcp.Required(), mcp.Description("UUID of the linked kitem")),
	), s.locked(s.linkKItems))

	s.mcp.AddTool(mcp.NewTool("set_custom_property",
		mcp.WithDescription("Stage a value for one webform field of a kitem."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Kitem UUID")),
		mcp.WithString("field", mcp.Required(), mcp.Description("Field name or label")),
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON value; bare text is taken as a string")),
	), s.locked(s.setCustomProperty))

	s.mcp.AddTool(mcp.NewTool("attach_file",
		mcp.WithDescription("Download a file from an http(s) URL or a base64 data URI and stage it as a kitem attachment."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Kitem UUID")),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data: URI")),
		mcp.WithString("filename", mcp.Description("Attachment name; derived from the URL when omitted")),
	), s.locked(s.attachFile))

	s.mcp.AddTool(mcp.NewTool("delete_kitem",
		mcp.WithDescription("Stage a kitem for deletion."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Kitem UUID")),
	), s.locked(s.deleteKItem))

	s.mcp.AddTool(mcp.NewTool("list_ktypes",
		mcp.WithDescription("List the known ktypes with their webform fields."),
	), s.locked(s.listKTypes))

	s.mcp.AddTool(mcp.NewTool("commit",
		mcp.WithDescription("Write every staged change to the backend."),
	), s.locked(s.commit))

	s.mcp.AddTool(mcp.NewTool("get_kitem_contract",
		mcp.WithDescription("Returns the kitem format contract. "+
			"Call this before creating or editing kitems."),
	), s.getKItemContract)

	s.mcp.AddResource(mcp.NewResource(
		"dsms://kitem-format",
		"DSMS KItem Format Contract",
		mcp.WithResourceDescription("How kitems are staged, described and committed"),
		mcp.WithMIMEType("text/markdown"),
	), func(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "dsms://kitem-format",
				MIMEType: "text/markdown",
				Text:     KItemFormatContract,
			},
		}, nil
	})

	s.mcp.AddResource(mcp.NewResource(
		"dsms://ktypes",
		"DSMS KTypes",
		mcp.WithResourceDescription("Known ktypes and their webform fields"),
		mcp.WithMIMEType("application/json"),
	), func(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		out, err := json.Marshal(s.ktypeSummaries())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "dsms://ktypes",
				MIMEType: "application/json",
				Text:     string(out),
			},
		}, nil
	})

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying mcp-go server (for testing).
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func (s *Server) locked(h toolHandler) toolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return h(ctx, req)
	}
}

type hit struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	KTypeID string `json:"ktype_id"`
	Fuzzy   bool   `json:"fuzzy,omitempty"`
}

func (s *Server) searchKItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q := dsms.SearchQuery{Text: query, Limit: 20, AllowFuzzy: req.GetBool("allow_fuzzy", false)}
	if kt := req.GetString("ktype", ""); kt != "" {
		q.KTypes = []string{kt}
	}
	if iri := req.GetString("annotation", ""); iri != "" {
		q.Annotations = []string{iri}
	}

	results, err := s.client.Search(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no results"), nil
	}
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hit{
			ID:      r.KItem.ID().String(),
			Name:    r.KItem.Name(),
			Slug:    r.KItem.Slug(),
			KTypeID: r.KItem.KTypeID(),
			Fuzzy:   r.Fuzzy,
		})
	}
	return jsonResult(hits)
}

func (s *Server) readKItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	k, res := s.kitem(ctx, req, "id")
	if res != nil {
		return res, nil
	}
	out, err := s.client.Export(k)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(out)
}

func (s *Server) createKItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ktypeID, err := req.RequireString("ktype_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := knowledge.Input{Name: name, KTypeID: ktypeID}
	if summary := req.GetString("summary", ""); summary != "" {
		in.Summary = summary
	}
	if raw := req.GetString("custom_properties", ""); raw != "" {
		var props map[string]any
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("custom_properties must be a JSON object: %v", err)), nil
		}
		in.CustomProperties = props
	}

	k, err := s.client.NewKItem(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("staged: %s (%s)", k.ID(), k.Slug())), nil
}

func (s *Server) annotateKItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	k, res := s.kitem(ctx, req, "id")
	if res != nil {
		return res, nil
	}
	a := map[string]any{}
	for _, field := range []string{"iri", "label", "namespace"} {
		v, err := req.RequireString(field)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		a[field] = v
	}
	if err := k.Annotations().Append(a); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("staged annotation on %s", k.ID())), nil
}

func (s *Server) linkKItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, res := s.kitem(ctx, req, "from")
	if res != nil {
		return res, nil
	}
	to, res := s.kitem(ctx, req, "to")
	if res != nil {
		return res, nil
	}
	if err := from.LinkedKItems().Append(to); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("staged link %s -> %s", from.ID(), to.ID())), nil
}

func (s *Server) setCustomProperty(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	k, res := s.kitem(ctx, req, "id")
	if res != nil {
		return res, nil
	}
	field, err := req.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var value any
	if json.Unmarshal([]byte(raw), &value) != nil {
		value = raw
	}

	rec := k.CustomProperties()
	if rec == nil {
		return mcp.NewToolResultError(fmt.Sprintf("ktype %s has no webform", k.KTypeID())), nil
	}
	if err := rec.Set(field, value); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("staged %s on %s", field, k.ID())), nil
}

func (s *Server) deleteKItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	k, res := s.kitem(ctx, req, "id")
	if res != nil {
		return res, nil
	}
	s.client.Delete(k)
	return mcp.NewToolResultText(fmt.Sprintf("staged deletion of %s", k.ID())), nil
}

type ktypeSummary struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

func (s *Server) ktypeSummaries() []ktypeSummary {
	kts := s.client.KTypes()
	out := make([]ktypeSummary, 0, len(kts))
	for _, kt := range kts {
		sum := ktypeSummary{ID: kt.ID(), Name: kt.Name(), Fields: []string{}}
		if schema := kt.Schema(); schema != nil {
			sum.Fields = schema.Order()
		}
		out = append(out, sum)
	}
	return out
}

func (s *Server) listKTypes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.client.RefreshKTypes(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("refresh ktypes: %v", err)), nil
	}
	return jsonResult(s.ktypeSummaries())
}

func (s *Server) commit(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	staged := s.client.Staged()
	if err := s.client.Commit(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("commit failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("committed: %d created, %d updated, %d deleted",
		len(staged.Created), len(staged.Updated), len(staged.Deleted))), nil
}

func (s *Server) getKItemContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(KItemFormatContract), nil
}

// kitem resolves the UUID argument key to a live kitem. A non-nil result
// is the error to return to the caller.
func (s *Server) kitem(ctx context.Context, req mcp.CallToolRequest, key string) (*knowledge.KItem, *mcp.CallToolResult) {
	raw, err := req.RequireString(key)
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("%s: %q is not a kitem id", key, raw))
	}
	if e, ok := s.client.Session().LookupKItem(id); ok {
		if k, ok := e.(*knowledge.KItem); ok {
			return k, nil
		}
	}
	k, err := s.client.Get(ctx, id)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("kitem not found: %s", id))
	}
	return k, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}
