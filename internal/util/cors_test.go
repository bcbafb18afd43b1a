package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	cases := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		wantOrigin string
		wantStatus int
	}{
		{name: "any origin", method: http.MethodGet, origin: "http://evil.test", wantOrigin: "*", wantStatus: http.StatusTeapot},
		{name: "listed origin", origins: []string{"http://localhost:5173/"}, method: http.MethodGet, origin: "http://localhost:5173", wantOrigin: "http://localhost:5173", wantStatus: http.StatusTeapot},
		{name: "unlisted origin", origins: []string{"http://localhost:5173"}, method: http.MethodGet, origin: "http://evil.test", wantOrigin: "", wantStatus: http.StatusTeapot},
		{name: "preflight", method: http.MethodOptions, origin: "http://localhost:5173", wantOrigin: "*", wantStatus: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/documents/", nil)
			req.Header.Set("Origin", tc.origin)
			rec := httptest.NewRecorder()
			WithCORS(tc.origins, next).ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Fatalf("expected allow-origin %q, got %q", tc.wantOrigin, got)
			}
		})
	}
}
