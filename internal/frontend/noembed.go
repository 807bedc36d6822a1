//go:build !embed

package frontend

import "net/http"

// Handler returns nil in a non-embed build: nothing is compiled into the
// binary, and main.go falls back to serving the frontend from disk in
// -dev mode or leaves "/", "/static/*", "/tray*" unhandled otherwise. The
// embedded frontend itself is out-of-scope desktop-shell UI (spec §1); only
// the route contract (spec §6.1) belongs to this host.
func Handler() http.Handler {
	return nil
}
