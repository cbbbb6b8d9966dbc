package api

import "net/http"

// StaticHandler serves files from ./static when the directory exists,
// for deployments that want to pin doc-UI assets instead of loading them
// from a CDN.
func (s *Server) StaticHandler() http.Handler {
    return http.StripPrefix("/static/", http.FileServer(http.Dir("static")))
}
