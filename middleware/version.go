package middleware

import (
	"net/http"
	"strings"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/version"
)

// VersionContext attaches a version.Context built from the version, scope and
// actor headers. A missing or empty version header addresses live.
func VersionContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			vctx := version.Context{
				VersionID: version.ID(strings.TrimSpace(r.Header.Get(vstore.VersionHeader))).Normalize(),
				Scope:     strings.TrimSpace(r.Header.Get(vstore.ScopeHeader)),
				Actor:     strings.TrimSpace(r.Header.Get(vstore.ActorHeader)),
			}
			next.ServeHTTP(w, r.WithContext(version.WithContext(r.Context(), vctx)))
		})
	}
}
