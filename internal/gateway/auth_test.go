package gateway

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cfg   AuthConfig
		setup func(*http.Request)
		want  int
	}{
		{
			name:  "valid bearer",
			cfg:   AuthConfig{BearerToken: "secret-token"},
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret-token") },
			want:  http.StatusOK,
		},
		{
			name:  "invalid bearer",
			cfg:   AuthConfig{BearerToken: "secret-token"},
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer wrong-token") },
			want:  http.StatusUnauthorized,
		},
		{
			name:  "valid basic",
			cfg:   AuthConfig{BasicUser: "admin", BasicPass: "pass123"},
			setup: func(r *http.Request) { r.SetBasicAuth("admin", "pass123") },
			want:  http.StatusOK,
		},
		{
			name:  "invalid basic",
			cfg:   AuthConfig{BasicUser: "admin", BasicPass: "pass123"},
			setup: func(r *http.Request) { r.SetBasicAuth("admin", "nope") },
			want:  http.StatusUnauthorized,
		},
		{
			name:  "missing header",
			cfg:   AuthConfig{BearerToken: "secret-token"},
			setup: func(*http.Request) {},
			want:  http.StatusUnauthorized,
		},
		{
			name:  "basic against bearer-only",
			cfg:   AuthConfig{BearerToken: "secret-token"},
			setup: func(r *http.Request) { r.SetBasicAuth("admin", "secret-token") },
			want:  http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := authMiddleware(tt.cfg, slog.New(slog.DiscardHandler))(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			tt.setup(req)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestAuthConfig_IsConfigured(t *testing.T) {
	t.Parallel()
	if (AuthConfig{}).IsConfigured() {
		t.Error("empty config reported as configured")
	}
	if (AuthConfig{BasicUser: "admin"}).IsConfigured() {
		t.Error("user without password reported as configured")
	}
	if !(AuthConfig{BearerToken: "x"}).IsConfigured() {
		t.Error("bearer token not detected")
	}
}

func TestRouter_AuthGroups(t *testing.T) {
	t.Parallel()

	open := newFixture(t, "{}", nil)
	if rr := open.do(t, http.MethodGet, "/status", nil, nil); rr.Code != http.StatusOK {
		t.Errorf("open /status = %d, want 200", rr.Code)
	}
	if rr := open.do(t, http.MethodPost, "/api/run", nil, nil); rr.Code == http.StatusOK {
		t.Error("mutations must not be mounted without auth")
	}

	secured := newFixture(t, "auth: {bearer_token: t0k3n}", nil)
	if rr := secured.do(t, http.MethodGet, "/status", nil, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("secured /status = %d, want 401", rr.Code)
	}
	if rr := secured.do(t, http.MethodGet, "/health", nil, nil); rr.Code != http.StatusOK {
		t.Errorf("/health must stay public, got %d", rr.Code)
	}
	if rr := secured.do(t, http.MethodGet, "/status", nil, bearer("t0k3n")); rr.Code != http.StatusOK {
		t.Errorf("authorized /status = %d", rr.Code)
	}
}
