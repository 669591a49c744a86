package api

// initializeHandlers creates and returns all handlers organized in a routeHandlers struct
func initializeHandlers(deps Dependencies, r *router) *routeHandlers {
	handlers := &routeHandlers{
		authHandler:   newAuthHandler(deps.Database.UserRepo(), deps.Tokens),
		postHandler:   newPostHandler(deps.Posts, r.maxFileSize),
		healthHandler: newHealthHandler(deps.Checks, r.startupTime),
	}
	if deps.Jobs != nil && r.adminToken != "" {
		jobs := newJobHandler(deps.Jobs)
		handlers.jobHandler = &jobs
	}
	return handlers
}
