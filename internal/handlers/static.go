package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/uma-tools/receipt-merger/internal/apierror"
)

func (h *Handler) HandleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.HandleNotFound(w, r)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" || strings.HasSuffix(name, "/") {
		name += "index.html"
	}

	// Prevent directory traversal attacks
	if slices.Contains(strings.Split(name, "/"), "..") {
		h.writeError(w, apierror.NewInvalidParameter("Invalid file path", r.URL.Path))
		return
	}

	fullPath := filepath.Join(h.staticDir, filepath.FromSlash(name))
	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		h.HandleNotFound(w, r)
		return
	}

	// Set appropriate content type based on file extension
	switch {
	case strings.HasSuffix(name, ".css"):
		w.Header().Set("Content-Type", "text/css")
	case strings.HasSuffix(name, ".js"):
		w.Header().Set("Content-Type", "application/javascript")
	case strings.HasSuffix(name, ".wasm"):
		w.Header().Set("Content-Type", "application/wasm")
	case strings.HasSuffix(name, ".html"):
		w.Header().Set("Content-Type", "text/html")
	}

	http.ServeFile(w, r, fullPath)
}
