package mcpserver

// KItemFormatContract describes how LLM consumers should create and edit
// kitems through the DSMS tools.
const KItemFormatContract = `# DSMS KItem Format Contract

Every knowledge item (kitem) belongs to exactly one ktype. The ktype's
webform decides which custom properties the kitem may carry.

## Workflow

1. Call ` + "`" + `list_ktypes` + "`" + ` and pick the ktype id. Its ` + "`" + `fields` + "`" + ` list the
   custom property names in form order.
2. Call ` + "`" + `search_kitems` + "`" + ` first. Do not create a kitem that already exists.
3. Stage changes with ` + "`" + `create_kitem` + "`" + `, ` + "`" + `annotate_kitem` + "`" + `, ` + "`" + `link_kitems` + "`" + `,
   ` + "`" + `set_custom_property` + "`" + `, ` + "`" + `attach_file` + "`" + ` and ` + "`" + `delete_kitem` + "`" + `.
4. Call ` + "`" + `commit` + "`" + ` once. Staged changes are lost if the server stops first.

## Rules

1. **Names** are short and human-readable. The slug is derived from the name;
   two kitems of one ktype cannot share a slug.
2. **Custom properties** are a JSON object keyed by field name or label.
   Numbers stay numbers; select fields take one of their option labels.
   Unknown keys are rejected when strict validation is on.
3. **Annotations** need an absolute ` + "`" + `iri` + "`" + `, a ` + "`" + `label` + "`" + ` and the
   ` + "`" + `namespace` + "`" + ` the IRI belongs to.
4. **Links** point from one kitem to another by UUID. A kitem cannot link to
   itself. The reverse direction appears on the target as an incoming link.
5. **Attachments** are fetched from http(s) URLs or base64 data URIs, up to
   10 MB. Supported formats: png, jpg, jpeg, gif, webp, svg, pdf, csv, json.
6. **Language policy:** ktype ids and field names are English. Names,
   summaries and values may use any language.

## Example

` + "```" + `json
{
  "name": "Steel Sheet S355",
  "ktype_id": "material",
  "summary": "Cold rolled sheet, 2 mm",
  "custom_properties": {"grade": "S355", "thickness": 2.0}
}
` + "```" + `
`
