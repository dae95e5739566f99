package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"
)

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const triggerConfig = `
triggers:
  report:
    secret: ci-secret
  ghost:
    secret: ghost-secret
`

func TestTrigger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		body     string
		sig      string
		want     int
		wantRuns int
	}{
		{"valid signature", "/hooks/report", `{"ref":"main"}`, sign(`{"ref":"main"}`, "ci-secret"), http.StatusOK, 1},
		{"wrong secret", "/hooks/report", `{}`, sign(`{}`, "other"), http.StatusUnauthorized, 0},
		{"tampered body", "/hooks/report", `{"ref":"dev"}`, sign(`{"ref":"main"}`, "ci-secret"), http.StatusUnauthorized, 0},
		{"missing signature", "/hooks/report", `{}`, "", http.StatusUnauthorized, 0},
		{"not configured", "/hooks/backup", `{}`, sign(`{}`, "ci-secret"), http.StatusNotFound, 0},
		{"configured but unregistered", "/hooks/ghost", `{}`, sign(`{}`, "ghost-secret"), http.StatusNotFound, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, triggerConfig, nil)
			header := http.Header{}
			if tt.sig != "" {
				header.Set("X-Signature-256", tt.sig)
			}
			rr := f.do(t, http.MethodPost, tt.path, strings.NewReader(tt.body), header)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body)
			}
			if f.runs["report"] != tt.wantRuns {
				t.Errorf("report runs = %d, want %d", f.runs["report"], tt.wantRuns)
			}
			if tt.wantRuns > 0 && f.gateway.Metrics().Snapshot().Triggers != 1 {
				t.Error("trigger not counted")
			}
		})
	}
}

func TestValidateHMAC(t *testing.T) {
	t.Parallel()
	body := []byte("payload")
	if !validateHMAC(body, sign("payload", "k"), "k") {
		t.Error("valid signature rejected")
	}
	if validateHMAC(body, strings.TrimPrefix(sign("payload", "k"), "sha256="), "k") {
		t.Error("signature without prefix accepted")
	}
}
