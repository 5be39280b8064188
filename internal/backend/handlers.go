package backend

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dsms/internal/models"
)

const maxJSONBytes = 10 << 20

// Handler holds the kitem and ktype route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// Docs handles GET /api/knowledge/docs and doubles as the liveness probe of
// clients.
func (h *Handler) Docs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "dsms"})
}

// ListKItems handles GET /api/knowledge/kitems.
//
//	@Param	limit	query	int	false	"Page size"
//	@Param	offset	query	int	false	"Page offset"
func (h *Handler) ListKItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	items, err := h.svc.ListKItems(r.Context(), limit, offset)
	if err != nil {
		writeError(w, "list kitems", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GetKItem handles GET /api/knowledge/kitems/{id}.
func (h *Handler) GetKItem(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetKItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get kitem", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateKItem handles POST /api/knowledge/kitems.
func (h *Handler) CreateKItem(w http.ResponseWriter, r *http.Request) {
	var in models.KItemCreate
	if !decode(w, r, &in) {
		return
	}
	m, err := h.svc.CreateKItem(r.Context(), in)
	if err != nil {
		writeError(w, "create kitem", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": m.ID})
}

// UpdateKItem handles PUT /api/knowledge/kitems/{id}.
func (h *Handler) UpdateKItem(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if !decode(w, r, &payload) {
		return
	}
	m, err := h.svc.UpdateKItem(r.Context(), chi.URLParam(r, "id"), payload)
	if err != nil {
		writeError(w, "update kitem", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": m.ID})
}

// DeleteKItem handles DELETE /api/knowledge/kitems/{id}.
func (h *Handler) DeleteKItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteKItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete kitem", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SlugExists handles HEAD /api/knowledge/kitems/{ktype}/{slug}: 200 when the
// slug is taken, 404 when it is free.
func (h *Handler) SlugExists(w http.ResponseWriter, r *http.Request) {
	taken, err := h.svc.SlugTaken(r.Context(), chi.URLParam(r, "ktype"), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, "check slug", err)
		return
	}
	if taken {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

// Search handles POST /api/knowledge/kitems/search.
//
//	@Param	allow_fuzzy	query	bool	false	"Fall back to single-word matches"
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var q models.SearchQuery
	if !decode(w, r, &q) {
		return
	}
	fuzzy, _ := strconv.ParseBool(r.URL.Query().Get("allow_fuzzy"))
	hits, err := h.svc.Search(r.Context(), q, fuzzy)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// ListKTypes handles GET /api/knowledge-type/.
func (h *Handler) ListKTypes(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListKTypes(r.Context())
	if err != nil {
		writeError(w, "list ktypes", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetKType handles GET /api/knowledge-type/{id}.
func (h *Handler) GetKType(w http.ResponseWriter, r *http.Request) {
	kt, err := h.svc.GetKType(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get ktype", err)
		return
	}
	writeJSON(w, http.StatusOK, kt)
}

// CreateKType handles POST /api/knowledge-type/.
func (h *Handler) CreateKType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	kt, err := h.svc.CreateKType(r.Context(), req.ID, req.Name)
	if err != nil {
		writeError(w, "create ktype", err)
		return
	}
	writeJSON(w, http.StatusCreated, kt)
}

// UpdateKType handles PUT /api/knowledge-type/{id}.
func (h *Handler) UpdateKType(w http.ResponseWriter, r *http.Request) {
	var kt models.KType
	if !decode(w, r, &kt) {
		return
	}
	kt.ID = chi.URLParam(r, "id")
	out, err := h.svc.UpdateKType(r.Context(), kt)
	if err != nil {
		writeError(w, "update ktype", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteKType handles DELETE /api/knowledge-type/{id}.
func (h *Handler) DeleteKType(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteKType(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete ktype", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
