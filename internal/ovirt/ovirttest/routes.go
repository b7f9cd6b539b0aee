package ovirttest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (e *Engine) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/ovirt-engine", func(r chi.Router) {
		r.Route("/sso/oauth", func(r chi.Router) {
			r.Post("/token", e.tokenHandler)
			r.Post("/revoke", e.revokeHandler)
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(e.AuthMiddleware)

			r.Route("/vms", func(r chi.Router) {
				r.Get("/", e.listVMsHandler)
				r.Post("/", e.addVMHandler)
				r.Route("/{vm}", func(r chi.Router) {
					r.Get("/", e.getVMHandler)
					r.Route("/snapshots", func(r chi.Router) {
						r.Post("/", e.addSnapshotHandler)
						r.Get("/{snapshot}", e.getSnapshotHandler)
						r.Delete("/{snapshot}", e.deleteSnapshotHandler)
						r.Get("/{snapshot}/disks", e.snapshotDisksHandler)
					})
					r.Route("/diskattachments", func(r chi.Router) {
						r.Get("/", e.listAttachmentsHandler)
						r.Post("/", e.addAttachmentHandler)
						r.Delete("/{attachment}", e.deleteAttachmentHandler)
					})
				})
			})

			r.Route("/disks", func(r chi.Router) {
				r.Post("/", e.addDiskHandler)
				r.Get("/{disk}", e.getDiskHandler)
			})

			r.Post("/events", e.addEventHandler)
		})
	})

	return r
}
