package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxTriggerBody bounds the signed payload read by the trigger endpoint.
const maxTriggerBody = 1 << 20

// handleTrigger runs a job when the request carries a valid HMAC-SHA256
// signature of its body in X-Signature-256 ("sha256=<hex>"). Only jobs listed
// under triggers in the gateway config can be started this way.
func (g *Gateway) handleTrigger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "job")
		trigger, ok := g.config.Triggers[name]
		if !ok || trigger.Secret == "" {
			g.logger.Warn("gateway: trigger for unconfigured job", "job", name)
			writeError(w, http.StatusNotFound, "no trigger configured")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxTriggerBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if !validateHMAC(body, r.Header.Get("X-Signature-256"), trigger.Secret) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		job, ok := g.deps.Scheduler.Registry().Get(name)
		if !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}

		noWriteDeadline(w)
		g.metrics.RecordTrigger()
		g.logger.Info("gateway: job triggered", "job", name, "remote_addr", r.RemoteAddr)

		res := g.deps.Executor.Execute(context.WithoutCancel(r.Context()), job, trigger.Force)
		writeJSON(w, http.StatusOK, res)
	}
}

// validateHMAC checks HMAC-SHA256 signature in constant time.
func validateHMAC(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
