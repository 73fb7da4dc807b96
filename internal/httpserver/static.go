package httpserver

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/vidmesh/vidmesh/internal/config"
)

// staticHandler serves the frontend bundle with single-page-app routing:
// requests that don't match a file fall back to index.html so client-side
// routes survive a reload.
func (s *Server) staticHandler(dir string) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setFrameEmbedHeaders(w, s.cfg.FrameEmbed)

		name := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	})
}

func setFrameEmbedHeaders(w http.ResponseWriter, policy config.FrameEmbedPolicy) {
	switch policy {
	case config.FrameEmbedSameOrigin:
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'self'")
	case config.FrameEmbedAny:
		// Embedding anywhere is explicitly allowed; send no framing headers.
	default:
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	}
}
