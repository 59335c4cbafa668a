package api

import "net/http"

// route is one endpoint of the HTTP surface
type route struct {
	method  string
	pattern string
	handler http.HandlerFunc
}

// routes lists every endpoint the server exposes
func (s *Server) routes() []route {
	return []route{
		{http.MethodGet, "/health", s.handleHealth},

		{http.MethodPost, "/test-connection", s.handleTestConnection},
		{http.MethodPost, "/fetch", s.handleFetch},
		{http.MethodPost, "/fetch-sent", s.handleFetchSent},
		{http.MethodPost, "/fetch-trash", s.handleFetchTrash},
		{http.MethodPost, "/folders", s.handleFolders},
		{http.MethodPost, "/send", s.handleSend},
		{http.MethodPost, "/sends", s.handleSends},

		{http.MethodPost, "/watch", s.handleWatch},
		{http.MethodPost, "/unwatch", s.handleUnwatch},
		{http.MethodGet, "/events", s.handleEvents},
	}
}

// registerRoutes mounts all routes on the router
func (s *Server) registerRoutes() {
	routes := s.routes()
	for _, rt := range routes {
		s.router.Method(rt.method, rt.pattern, rt.handler)
		s.logger.WithField("route", rt.method+" "+rt.pattern).Debug("Registered route")
	}

	s.logger.WithField("count", len(routes)).Info("Registered routes")
}
