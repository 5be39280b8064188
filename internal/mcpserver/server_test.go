package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/dsms/internal/dsms"
	"github.com/starford/dsms/internal/models"
	"github.com/starford/dsms/internal/testutil"
	"github.com/starford/dsms/internal/webform"
)

func testServer(t *testing.T) (*Server, *dsms.Client) {
	t.Helper()

	wf := &webform.Webform{Sections: []webform.Section{{
		ID:   "props",
		Name: "Properties",
		Inputs: []webform.Input{
			{ID: "g", Label: "Grade", Widget: webform.WidgetSelect, SelectOptions: []webform.SelectOption{{Label: "S235"}, {Label: "S355"}}},
		},
	}}}
	form, err := json.Marshal(wf)
	if err != nil {
		t.Fatal(err)
	}
	backend := testutil.TestServer(t, models.KType{ID: "material", Name: "Material", Webform: form})

	cfg := dsms.DefaultConfig()
	cfg.HostURL = backend.HostURL()
	c, err := dsms.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return New(c), c
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no in-process call helper, so the handlers are invoked directly.
	var (
		result *mcp.CallToolResult
		err    error
	)
	switch name {
	case "search_kitems":
		result, err = srv.searchKItems(ctx, req)
	case "read_kitem":
		result, err = srv.readKItem(ctx, req)
	case "create_kitem":
		result, err = srv.createKItem(ctx, req)
	case "annotate_kitem":
		result, err = srv.annotateKItem(ctx, req)
	case "link_kitems":
		result, err = srv.linkKItems(ctx, req)
	case "set_custom_property":
		result, err = srv.setCustomProperty(ctx, req)
	case "attach_file":
		result, err = srv.attachFile(ctx, req)
	case "delete_kitem":
		result, err = srv.deleteKItem(ctx, req)
	case "list_ktypes":
		result, err = srv.listKTypes(ctx, req)
	case "commit":
		result, err = srv.commit(ctx, req)
	case "get_kitem_contract":
		result, err = srv.getKItemContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// create stages and commits a kitem and returns its id.
func create(t *testing.T, srv *Server, name string) string {
	t.Helper()
	r := callTool(t, srv, "create_kitem", map[string]interface{}{
		"name":     name,
		"ktype_id": "material",
		"summary":  name + " summary",
	})
	if r.IsError {
		t.Fatalf("create_kitem: %s", resultText(r))
	}
	text := strings.TrimPrefix(resultText(r), "staged: ")
	id, _, _ := strings.Cut(text, " ")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("create result = %q", resultText(r))
	}
	if r := callTool(t, srv, "commit", nil); r.IsError {
		t.Fatalf("commit: %s", resultText(r))
	}
	return id
}

func TestCreateAndReadKItem(t *testing.T) {
	srv, _ := testServer(t)
	id := create(t, srv, "Steel Sheet")

	r := callTool(t, srv, "read_kitem", map[string]interface{}{"id": id})
	var out map[string]any
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatalf("read result = %q", resultText(r))
	}
	if out["name"] != "Steel Sheet" || out["ktype_id"] != "material" {
		t.Errorf("kitem = %v", out)
	}
}

func TestCreateKItemUnknownKType(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "create_kitem", map[string]interface{}{"name": "x", "ktype_id": "nope"})
	if !r.IsError {
		t.Error("expected error for unknown ktype")
	}
}

func TestSearchKItems(t *testing.T) {
	srv, _ := testServer(t)
	create(t, srv, "Steel Sheet")
	create(t, srv, "Copper Wire")

	r := callTool(t, srv, "search_kitems", map[string]interface{}{"query": "Steel"})
	var hits []hit
	if err := json.Unmarshal([]byte(resultText(r)), &hits); err != nil {
		t.Fatalf("search result = %q", resultText(r))
	}
	if len(hits) != 1 || hits[0].Name != "Steel Sheet" {
		t.Errorf("hits = %v", hits)
	}

	r = callTool(t, srv, "search_kitems", map[string]interface{}{"query": "Aluminium"})
	if resultText(r) != "no results" {
		t.Errorf("search result = %q", resultText(r))
	}
}

func TestAnnotateLinkAndSetProperty(t *testing.T) {
	srv, c := testServer(t)
	sheet := create(t, srv, "Steel Sheet")
	coil := create(t, srv, "Steel Coil")

	steps := []struct {
		tool string
		args map[string]interface{}
	}{
		{"annotate_kitem", map[string]interface{}{"id": sheet, "iri": "http://x/steel", "label": "steel", "namespace": "http://x"}},
		{"link_kitems", map[string]interface{}{"from": sheet, "to": coil}},
		{"set_custom_property", map[string]interface{}{"id": sheet, "field": "Grade", "value": "S355"}},
		{"commit", nil},
	}
	for _, s := range steps {
		if r := callTool(t, srv, s.tool, s.args); r.IsError {
			t.Fatalf("%s: %s", s.tool, resultText(r))
		}
	}

	m, err := c.Session().Backend().GetKItem(context.Background(), uuid.MustParse(sheet))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Annotations) != 1 || m.Annotations[0]["iri"] != "http://x/steel" {
		t.Errorf("annotations = %v", m.Annotations)
	}
	if len(m.LinkedKItems) != 1 || m.LinkedKItems[0]["id"] != coil {
		t.Errorf("links = %v", m.LinkedKItems)
	}
}

func TestSetUnknownProperty(t *testing.T) {
	srv, _ := testServer(t)
	id := create(t, srv, "Steel Sheet")
	r := callTool(t, srv, "set_custom_property", map[string]interface{}{"id": id, "field": "colour", "value": "red"})
	if !r.IsError {
		t.Error("expected error for unknown field")
	}
}

func TestReadKItemMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_kitem", map[string]interface{}{"id": uuid.NewString()})
	if !r.IsError {
		t.Error("expected error for missing kitem")
	}
	r = callTool(t, srv, "read_kitem", map[string]interface{}{"id": "not-a-uuid"})
	if !r.IsError {
		t.Error("expected error for malformed id")
	}
}

func TestAttachFileDataURI(t *testing.T) {
	srv, c := testServer(t)
	id := create(t, srv, "Steel Sheet")

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	r := callTool(t, srv, "attach_file", map[string]interface{}{"id": id, "url": uri, "filename": "micrograph.png"})
	if r.IsError {
		t.Fatalf("attach_file: %s", resultText(r))
	}
	r = callTool(t, srv, "attach_file", map[string]interface{}{"id": id, "url": uri, "filename": "micrograph.png"})
	if !r.IsError {
		t.Error("expected error for duplicate attachment")
	}
	if r := callTool(t, srv, "commit", nil); r.IsError {
		t.Fatalf("commit: %s", resultText(r))
	}

	data, err := c.Session().Backend().DownloadAttachment(context.Background(), uuid.MustParse(id), "micrograph.png")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != len(png) {
		t.Errorf("attachment size = %d, want %d", len(data), len(png))
	}
}

func TestAttachFileRejectsMismatch(t *testing.T) {
	srv, _ := testServer(t)
	id := create(t, srv, "Steel Sheet")
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("plain text"))
	r := callTool(t, srv, "attach_file", map[string]interface{}{"id": id, "url": uri})
	if !r.IsError {
		t.Error("expected error for content not matching extension")
	}
	r = callTool(t, srv, "attach_file", map[string]interface{}{"id": id, "url": "http://127.0.0.1/x.png"})
	if !r.IsError {
		t.Error("expected error for loopback URL")
	}
}

func TestDeleteKItem(t *testing.T) {
	srv, c := testServer(t)
	id := create(t, srv, "Steel Sheet")
	if r := callTool(t, srv, "delete_kitem", map[string]interface{}{"id": id}); r.IsError {
		t.Fatalf("delete_kitem: %s", resultText(r))
	}
	r := callTool(t, srv, "commit", nil)
	if !strings.Contains(resultText(r), "1 deleted") {
		t.Errorf("commit result = %q", resultText(r))
	}
	if _, err := c.Session().Backend().GetKItem(context.Background(), uuid.MustParse(id)); err == nil {
		t.Error("kitem should be gone")
	}
}

func TestListKTypes(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_ktypes", nil)
	var kts []ktypeSummary
	if err := json.Unmarshal([]byte(resultText(r)), &kts); err != nil {
		t.Fatalf("list result = %q", resultText(r))
	}
	if len(kts) != 1 || kts[0].ID != "material" || len(kts[0].Fields) != 1 {
		t.Errorf("ktypes = %v", kts)
	}
}

func TestKItemContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_kitem_contract", nil)
	if !strings.Contains(resultText(r), "# DSMS KItem Format Contract") {
		t.Error("contract text missing")
	}
}
