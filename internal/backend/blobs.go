package backend

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dsms/internal/models"
)

const maxUploadBytes = 50 << 20 // 50 MB

// formFile reads the multipart field into memory.
func formFile(w http.ResponseWriter, r *http.Request, field string) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return "", nil, false
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing '"+field+"' field in multipart form"))
		return "", nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read upload"))
		return "", nil, false
	}
	return header.Filename, data, true
}

// UploadAttachment handles PUT /api/knowledge/attachments/{id} (multipart,
// field "dataFile").
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	name, data, ok := formFile(w, r, "dataFile")
	if !ok {
		return
	}
	if err := h.svc.UploadAttachment(r.Context(), chi.URLParam(r, "id"), name, data); err != nil {
		writeError(w, "upload attachment", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": name, "size": len(data)})
}

// DownloadAttachment handles GET /api/knowledge/attachments/{id}/{name}.
func (h *Handler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.DownloadAttachment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, "download attachment", err)
		return
	}
	writeBlob(w, http.DetectContentType(data), data)
}

// DeleteAttachment handles DELETE /api/knowledge/attachments/{id}/{name}.
func (h *Handler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAttachment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name")); err != nil {
		writeError(w, "delete attachment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutDataframe handles PUT /api/knowledge/data/{id}. The body is a JSON
// object of equally long columns.
func (h *Handler) PutDataframe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("body too large"))
		return
	}
	if err := h.svc.PutDataframe(r.Context(), chi.URLParam(r, "id"), body); err != nil {
		writeError(w, "put dataframe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListColumns handles GET /api/knowledge/data/{id}.
func (h *Handler) ListColumns(w http.ResponseWriter, r *http.Request) {
	cols, err := h.svc.ListColumns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "list columns", err)
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

// GetColumn handles GET /api/knowledge/data/{id}/column-{n}.
func (h *Handler) GetColumn(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("column index must be an integer"))
		return
	}
	values, err := h.svc.Column(r.Context(), chi.URLParam(r, "id"), n)
	if err != nil {
		writeError(w, "get column", err)
		return
	}
	writeJSON(w, http.StatusOK, models.ColumnData{Array: values})
}

// DeleteDataframe handles DELETE /api/knowledge/data/{id}.
func (h *Handler) DeleteDataframe(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDataframe(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete dataframe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSubgraph handles GET /api/knowledge/rdf/{id}?repository=.
func (h *Handler) GetSubgraph(w http.ResponseWriter, r *http.Request) {
	triples, err := h.svc.GetSubgraph(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("repository"))
	if err != nil {
		writeError(w, "get subgraph", err)
		return
	}
	writeBlob(w, "application/n-triples", []byte(triples))
}

// PutSubgraph handles PUT /api/knowledge/rdf/{id}?repository=.
func (h *Handler) PutSubgraph(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("body too large"))
		return
	}
	if err := h.svc.PutSubgraph(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("repository"), string(body)); err != nil {
		writeError(w, "put subgraph", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSubgraph handles DELETE /api/knowledge/rdf/{id}?repository=.
func (h *Handler) DeleteSubgraph(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSubgraph(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("repository")); err != nil {
		writeError(w, "delete subgraph", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutAvatar handles PUT /api/knowledge/avatar/{id} (multipart, field "file").
func (h *Handler) PutAvatar(w http.ResponseWriter, r *http.Request) {
	_, data, ok := formFile(w, r, "file")
	if !ok {
		return
	}
	if err := h.svc.PutAvatar(r.Context(), chi.URLParam(r, "id"), data); err != nil {
		writeError(w, "put avatar", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAvatar handles GET /api/knowledge/avatar/{id}.
func (h *Handler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.GetAvatar(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get avatar", err)
		return
	}
	writeBlob(w, "image/png", data)
}

// DeleteAvatar handles DELETE /api/knowledge/avatar/{id}.
func (h *Handler) DeleteAvatar(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAvatar(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete avatar", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutAppSpec handles POST /api/knowledge/apps/argo/spec/{name}?overwrite=
// (multipart, field "def_file").
func (h *Handler) PutAppSpec(w http.ResponseWriter, r *http.Request) {
	_, data, ok := formFile(w, r, "def_file")
	if !ok {
		return
	}
	overwrite, _ := strconv.ParseBool(r.URL.Query().Get("overwrite"))
	if err := h.svc.PutAppSpec(r.Context(), chi.URLParam(r, "name"), data, overwrite); err != nil {
		writeError(w, "put app spec", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// GetAppSpec handles GET /api/knowledge/apps/argo/spec/{name}.
func (h *Handler) GetAppSpec(w http.ResponseWriter, r *http.Request) {
	spec, err := h.svc.GetAppSpec(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, "get app spec", err)
		return
	}
	writeBlob(w, "application/yaml", spec)
}

// DeleteAppSpec handles DELETE /api/knowledge/apps/argo/spec/{name}.
func (h *Handler) DeleteAppSpec(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAppSpec(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, "delete app spec", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
