package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name        string
		allowed     []string
		origin      string
		method      string
		wantStatus  int
		wantOrigin  string
		wantCredent string
	}{
		{"explicit origin", []string{"https://app.example"}, "https://app.example", http.MethodGet, http.StatusTeapot, "https://app.example", "true"},
		{"wildcard", []string{"*"}, "https://other.example", http.MethodGet, http.StatusTeapot, "https://other.example", ""},
		{"rejected origin", []string{"https://app.example"}, "https://evil.example", http.MethodGet, http.StatusTeapot, "", ""},
		{"preflight", []string{"*"}, "https://other.example", http.MethodOptions, http.StatusOK, "https://other.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/review/start", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow-origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCredent {
				t.Errorf("allow-credentials = %q, want %q", got, tt.wantCredent)
			}
			if tt.wantOrigin != "" && w.Header().Get("Access-Control-Expose-Headers") != exposedHeaders {
				t.Errorf("expected exposed headers to be set")
			}
		})
	}
}
