package vstore

import (
	"encoding/json"
	"net/http"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
)

// RouteInfo describes one registered route.
type RouteInfo struct {
	Method      string   `json:"method"`
	Pattern     string   `json:"pattern"`
	Middlewares []string `json:"middlewares,omitempty"`
}

// RegisterDebugRoutes exposes GET /debug/routes when enabled.
func RegisterDebugRoutes(r chi.Router, enabled bool) {
	if !enabled || r == nil {
		return
	}
	r.Get("/debug/routes", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(enumerateRoutes(r))
	})
}

func enumerateRoutes(r chi.Router) []RouteInfo {
	routes := make([]RouteInfo, 0)
	_ = chi.Walk(r, func(method string, route string, _ http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		info := RouteInfo{Method: method, Pattern: strings.ReplaceAll(route, "/*/", "/")}
		for _, mw := range middlewares {
			info.Middlewares = append(info.Middlewares, funcName(mw))
		}
		routes = append(routes, info)
		return nil
	})
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Pattern != routes[j].Pattern {
			return routes[i].Pattern < routes[j].Pattern
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}

func funcName(fn func(http.Handler) http.Handler) string {
	if fn == nil {
		return "<nil>"
	}
	return runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
}
