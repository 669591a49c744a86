package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func setupRoutes(r chi.Router, handlers *routeHandlers, authMiddleware authMiddleware, adminMiddleware adminMiddleware, gatherer prometheus.Gatherer) {
	r.Get("/health", handlers.healthHandler.health())
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(ColoredHTTPLoggingMiddleware)

		r.Post("/auth/register", handlers.authHandler.register())
		r.Post("/auth/login", handlers.authHandler.login())

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.authenticate)

			r.Get("/auth/profile", handlers.authHandler.profile())

			r.Get("/posts", handlers.postHandler.getAllPosts())
			r.Post("/posts", handlers.postHandler.createPost())
			r.Get("/posts/{postID}", handlers.postHandler.getPost())
			r.Patch("/posts/{postID}", handlers.postHandler.updatePost())
			r.Delete("/posts/{postID}", handlers.postHandler.deletePost())
		})

		// Operator routes
		if handlers.jobHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(adminMiddleware.authorize)

				r.Get("/admin/jobs", handlers.jobHandler.getJobs())
				r.Post("/admin/jobs/failed/{jobID}/replay", handlers.jobHandler.replayFailedJob())
			})
		}
	})
}
