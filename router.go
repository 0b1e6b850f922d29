package vstore

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Error codes written by the JSON fallback handlers.
const (
	CodeRouteNotFound    = "route_not_found"
	CodeMethodNotAllowed = "method_not_allowed"
)

// JSONFallbacks makes unmatched routes and methods answer with the error
// envelope instead of chi's plain text bodies.
func JSONFallbacks(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		Error(w, http.StatusNotFound, CodeRouteNotFound, "no route for "+req.URL.Path)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		Error(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, req.Method+" not allowed on "+req.URL.Path)
	})
}
