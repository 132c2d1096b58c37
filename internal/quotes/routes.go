package quotes

import (
	"github.com/go-chi/chi/v5"

	"github.com/atelier-ops/atelier/internal/shared"
)

// MountRoutes registers the quotation API; mount it under /quotes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Get("/{id}", h.show)
		r.Get("/{id}/versions", h.listVersions)
		r.Get("/{id}/versions/{versionId}", h.showVersion)
		r.Post("/calculate", h.calculate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.EditorRoles()...))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/recalculate", h.recalculate)
		r.Put("/{id}/versions/{versionId}", h.updateVersion)
	})
}
