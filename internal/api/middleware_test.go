package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKeyAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	protected := APIKeyAuth("secret")(next)

	cases := []struct {
		name  string
		setup func(*http.Request)
		want  int
	}{
		{"missing key", func(*http.Request) {}, http.StatusUnauthorized},
		{"blank bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") }, http.StatusUnauthorized},
		{"wrong key", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }, http.StatusForbidden},
		{"header key", func(r *http.Request) { r.Header.Set("X-API-Key", "secret") }, http.StatusNoContent},
		{"bearer key", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, http.StatusNoContent},
	}

	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/v1/reels", nil)
		tc.setup(req)

		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestRequestAPIKeyPrefersHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/reels", nil)
	req.Header.Set("X-API-Key", "primary")
	req.Header.Set("Authorization", "Bearer secondary")

	if got := requestAPIKey(req); got != "primary" {
		t.Errorf("requestAPIKey = %q, want %q", got, "primary")
	}
}
