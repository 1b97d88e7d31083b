package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestHostCheck(t *testing.T) {
	tests := []struct {
		host string
		want int
	}{
		{"localhost", http.StatusOK},
		{"localhost:8080", http.StatusOK},
		{"127.0.0.1:8080", http.StatusOK},
		{"[::1]:8080", http.StatusOK},
		{"::1", http.StatusOK},
		{"localhost.evil.com", http.StatusForbidden},
		{"localhost.evil.com:8080", http.StatusForbidden},
		{"127.0.0.1.nip.io", http.StatusForbidden},
		{"192.168.1.20:8080", http.StatusForbidden},
		{"", http.StatusForbidden},
	}

	handler := HostCheck(okHandler)
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			req.Host = tt.host
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("host %q: status = %d, want %d", tt.host, rr.Code, tt.want)
			}
		})
	}
}

func TestCORS_Origins(t *testing.T) {
	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:5173", true},
		{"http://127.0.0.1:8080", true},
		{"http://[::1]:8080", true},
		{"http://localhost.evil.com", false},
		{"http://127.0.0.1.evil.com", false},
		{"https://evil.com", false},
		{"null", false},
		{"", false},
	}

	handler := CORS(okHandler)
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			got := rr.Header().Get("Access-Control-Allow-Origin")
			if tt.allowed && got != tt.origin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.origin)
			}
			if !tt.allowed && got != "" {
				t.Errorf("Allow-Origin = %q, want none", got)
			}
			if rr.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rr.Code)
			}
		})
	}
}

func TestCORS_PreflightAdvertisesReadAndSubmitOnly(t *testing.T) {
	var reached bool
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/actions/claim", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if reached {
		t.Error("preflight should not reach the handler")
	}

	methods := strings.Split(rr.Header().Get("Access-Control-Allow-Methods"), ", ")
	for _, m := range []string{http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, got := range methods {
			if got == m {
				t.Errorf("%s advertised in %v", m, methods)
			}
		}
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), CSRFHeaderName) {
		t.Errorf("Allow-Headers = %q, want %s", rr.Header().Get("Access-Control-Allow-Headers"), CSRFHeaderName)
	}
}

func TestCSRF_CookieRoundTrip(t *testing.T) {
	handler := CSRF(okHandler)

	get := httptest.NewRequest(http.MethodGet, "/api/wallet", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, get)

	var token *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == CSRFCookieName {
			token = c
		}
	}
	if token == nil {
		t.Fatalf("GET did not set %s cookie", CSRFCookieName)
	}
	if len(token.Value) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token.Value))
	}
	if token.SameSite != http.SameSiteStrictMode {
		t.Errorf("SameSite = %v, want Strict", token.SameSite)
	}

	post := httptest.NewRequest(http.MethodPost, "/api/actions/claim", nil)
	post.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: token.Value})
	post.Header.Set(CSRFHeaderName, token.Value)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, post)

	if rr.Code != http.StatusOK {
		t.Errorf("POST with echoed token: status = %d, want 200", rr.Code)
	}

	again := httptest.NewRequest(http.MethodGet, "/api/wallet", nil)
	again.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: token.Value})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, again)

	if len(rr.Result().Cookies()) != 0 {
		t.Error("GET with a token cookie should not issue a new one")
	}
}

func TestCSRF_RejectsMutations(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
	}{
		{"no cookie or header", "", ""},
		{"cookie without header", "abc123", ""},
		{"header without cookie", "", "abc123"},
		{"mismatched token", "abc123", "xyz789"},
	}

	handler := CSRF(okHandler)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/wallet/disconnect", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(CSRFHeaderName, tt.header)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", rr.Code)
			}
		})
	}
}

func TestCSRF_IgnoresForeignCookieName(t *testing.T) {
	handler := CSRF(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/api/actions/sell", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "abc123"})
	req.Header.Set(CSRFHeaderName, "abc123")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
}
