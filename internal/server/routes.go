package server

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)
	r.Get("/state", s.getState)
	r.Post("/command", s.postCommand)

	// Long-lived connections
	r.Get("/port", s.attachPort)
	r.Get("/event", s.allEvents)
}
