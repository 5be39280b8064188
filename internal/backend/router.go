package backend

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with every backend route. It is meant to be
// mounted at /api. sseHandler, if non-nil, is served at GET /events inside
// the auth group.
func NewRouter(svc *Service, auth *Auth, sseHandler http.Handler) chi.Router {
	if auth == nil {
		auth = &Auth{}
	}
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Get("/users/token", auth.IssueToken)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/knowledge/docs", h.Docs)

		r.Get("/knowledge/kitems", h.ListKItems)
		r.Post("/knowledge/kitems", h.CreateKItem)
		r.Post("/knowledge/kitems/search", h.Search)
		r.Get("/knowledge/kitems/{id}", h.GetKItem)
		r.Put("/knowledge/kitems/{id}", h.UpdateKItem)
		r.Delete("/knowledge/kitems/{id}", h.DeleteKItem)
		r.Head("/knowledge/kitems/{ktype}/{slug}", h.SlugExists)

		for _, p := range []string{"/knowledge-type", "/knowledge-type/"} {
			r.Get(p, h.ListKTypes)
			r.Post(p, h.CreateKType)
		}
		r.Get("/knowledge-type/{id}", h.GetKType)
		r.Put("/knowledge-type/{id}", h.UpdateKType)
		r.Delete("/knowledge-type/{id}", h.DeleteKType)

		r.Put("/knowledge/attachments/{id}", h.UploadAttachment)
		r.Get("/knowledge/attachments/{id}/{name}", h.DownloadAttachment)
		r.Delete("/knowledge/attachments/{id}/{name}", h.DeleteAttachment)

		r.Put("/knowledge/data/{id}", h.PutDataframe)
		r.Get("/knowledge/data/{id}", h.ListColumns)
		r.Delete("/knowledge/data/{id}", h.DeleteDataframe)
		r.Get("/knowledge/data/{id}/column-{n}", h.GetColumn)

		r.Get("/knowledge/rdf/{id}", h.GetSubgraph)
		r.Put("/knowledge/rdf/{id}", h.PutSubgraph)
		r.Delete("/knowledge/rdf/{id}", h.DeleteSubgraph)

		r.Put("/knowledge/avatar/{id}", h.PutAvatar)
		r.Get("/knowledge/avatar/{id}", h.GetAvatar)
		r.Delete("/knowledge/avatar/{id}", h.DeleteAvatar)

		r.Post("/knowledge/apps/argo/spec/{name}", h.PutAppSpec)
		r.Get("/knowledge/apps/argo/spec/{name}", h.GetAppSpec)
		r.Delete("/knowledge/apps/argo/spec/{name}", h.DeleteAppSpec)

		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})
	return r
}
