// Package web embeds the built agentboard UI (dist/) and provides an HTTP
// handler that serves it as a single-page application (SPA).
//
// In development the dist/ directory won't exist; the handler returns 404 for
// non-API routes and the Vite dev server should be used instead.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// SPAHandler returns an http.Handler that serves the embedded board UI.
// Static files come from dist/; any path that doesn't match a file falls
// back to index.html so client-side task routes resolve.
func SPAHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Try to serve the file directly.
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		// Check if file exists in the embedded FS.
		if f, err := subFS.Open(path); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close embedded file", "path", path, "error", closeErr)
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		// Not a file; hand the path to the SPA router.
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
