package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func serve(h *Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHandleStatic(t *testing.T) {
	h, cfg := newTestHandler(t, &recordingEngine{})
	os.WriteFile(filepath.Join(cfg.StaticDir, "index.html"), []byte("<html>home</html>"), 0644)
	os.WriteFile(filepath.Join(cfg.StaticDir, "app.js"), []byte("console.log(1)"), 0644)
	os.WriteFile(filepath.Join(cfg.StaticDir, "app.wasm"), []byte{0, 'a', 's', 'm'}, 0644)

	tests := []struct {
		target      string
		contentType string
		body        string
	}{
		{target: "/", contentType: "text/html", body: "home"},
		{target: "/app.js", contentType: "application/javascript", body: "console.log"},
		{target: "/app.wasm", contentType: "application/wasm"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := serve(h, http.MethodGet, tt.target)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != tt.contentType {
				t.Errorf("Expected %s, got %s", tt.contentType, ct)
			}
			if !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("Unexpected body %q", rec.Body.String())
			}
		})
	}
}

func TestUnmatchedRoutesReturnJSONNotFound(t *testing.T) {
	h, _ := newTestHandler(t, &recordingEngine{})

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/missing.png"},
		{http.MethodPost, "/somewhere"},
		{http.MethodGet, "/receipts"},
		{http.MethodDelete, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := serve(h, tt.method, tt.target)
			if rec.Code != http.StatusNotFound {
				t.Fatalf("Expected 404, got %d", rec.Code)
			}
			body := decodeError(t, rec)
			if body.Error.Type != "endpoint_not_found" {
				t.Errorf("Expected endpoint_not_found, got %s", body.Error.Type)
			}
			if body.Error.Path != tt.target {
				t.Errorf("Expected path %s, got %s", tt.target, body.Error.Path)
			}
		})
	}
}

func TestHandleStaticRejectsTraversal(t *testing.T) {
	h, _ := newTestHandler(t, &recordingEngine{})

	for _, path := range []string{"/../secret", "/assets/../../secret", "/assets/.."} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.URL.Path = path
			rec := httptest.NewRecorder()
			h.HandleStatic(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHandleStaticServesDottedNames(t *testing.T) {
	h, cfg := newTestHandler(t, &recordingEngine{})
	os.WriteFile(filepath.Join(cfg.StaticDir, "app..chunk.js"), []byte("chunk()"), 0644)

	rec := serve(h, http.MethodGet, "/app..chunk.js")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "chunk()" {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
}

func TestHealthcheckAndMetrics(t *testing.T) {
	h, _ := newTestHandler(t, &recordingEngine{})

	rec := serve(h, http.MethodGet, "/healthcheck")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("Unexpected healthcheck response %d %q", rec.Code, rec.Body.String())
	}

	postReceipt(t, h, imagePart("A"))

	rec = serve(h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `receipts_requests_total{outcome="ok"} 1`) {
		t.Errorf("Expected request counter in metrics output")
	}
}
