// Package webui serves the embedded browser client for the /chatHub protocol.
// The page, script and stylesheet are compiled into the binary with go:embed.
package webui

import (
	"embed"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

//go:embed static
var staticFS embed.FS

func init() {
	_ = mime.AddExtensionType(".map", "application/json")
}

// mimeFromExt returns the MIME type for a file extension.
// Falls back to the standard library's MIME database, then to
// "application/octet-stream".
func mimeFromExt(ext string) string {
	switch ext {
	case ".html":
		return "text/html; charset=utf-8"
	case ".js", ".mjs":
		return "application/javascript"
	case ".css":
		return "text/css; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".map":
		return "application/json"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// Handler serves index.html at "/" and the remaining assets under "/static/".
// Assets are unhashed, so every response is served with no-cache.
func Handler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("webui: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		switch {
		case r.URL.Path == "/" || r.URL.Path == "/index.html":
			serveIndex(w, sub)
		case strings.HasPrefix(r.URL.Path, "/static/"):
			if ext := strings.ToLower(path.Ext(r.URL.Path)); ext != "" {
				w.Header().Set("Content-Type", mimeFromExt(ext))
			}
			w.Header().Set("Cache-Control", "no-cache")
			fileServer.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func serveIndex(w http.ResponseWriter, sub fs.FS) {
	data, err := fs.ReadFile(sub, "index.html")
	if err != nil {
		http.Error(w, "web client unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeFromExt(".html"))
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}
