// Package notify posts run reports to an HTTP endpoint. Bodies are signed
// with the same X-Signature-256 scheme the gateway accepts on /hooks, so
// one cronrun can trigger jobs on another.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/flemzord/cronrun/internal/cron"
)

// DefaultTimeout bounds one delivery.
const DefaultTimeout = 10 * time.Second

// SignatureHeader carries "sha256=<hex hmac>" of the body.
const SignatureHeader = "X-Signature-256"

// Config configures a Webhook.
type Config struct {
	URL    string
	Secret string
	// OnlyFailures skips reports in which every job succeeded or was skipped.
	OnlyFailures bool
	Timeout      time.Duration
	Client       *http.Client
	Logger       *slog.Logger
}

// Payload is the JSON body of a delivery.
type Payload struct {
	At         time.Time     `json:"at"`
	Forced     bool          `json:"forced"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Failed     int           `json:"failed"`
	Results    []cron.Result `json:"results"`
}

// Webhook is a cron.Recorder that delivers reports.
type Webhook struct {
	cfg    Config
	logger *slog.Logger
}

// Compile-time interface check.
var _ cron.Recorder = (*Webhook)(nil)

// NewWebhook creates a Webhook.
func NewWebhook(cfg Config) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{cfg: cfg, logger: logger.With("component", "notify")}
}

// NewPayload builds the delivery body for r, with results ordered by job.
func NewPayload(r cron.Report) Payload {
	p := Payload{
		At:         r.At,
		Forced:     r.Force,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Results:    make([]cron.Result, 0, len(r.Results)),
	}
	for _, name := range slices.Sorted(maps.Keys(r.Results)) {
		res := r.Results[name]
		if res.Status() == cron.StatusFailed {
			p.Failed++
		}
		p.Results = append(p.Results, res)
	}
	return p
}

// Sign returns the SignatureHeader value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// RecordRun implements cron.Recorder.
func (w *Webhook) RecordRun(ctx context.Context, r cron.Report) error {
	if len(r.Results) == 0 {
		return nil
	}
	p := NewPayload(r)
	if w.cfg.OnlyFailures && p.Failed == 0 {
		return nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("notify: encode report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cronrun")
	if w.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, w.cfg.Secret))
	}

	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post report: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: post report: unexpected status %s", resp.Status)
	}
	w.logger.Debug("notify: report delivered", "jobs", len(p.Results), "failed", p.Failed)
	return nil
}
