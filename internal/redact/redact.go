// Package redact scrubs secrets from log output. Configured secrets are
// replaced verbatim; credentials embedded in URLs, bearer tokens and a
// few well-known token formats are matched by pattern.
package redact

import (
	"regexp"
	"strings"
	"sync"
)

// Placeholder replaces every redacted secret.
const Placeholder = "***REDACTED***"

// MinLiteralLength is the shortest literal secret Redactor accepts. Shorter
// values would blank out unrelated words.
const MinLiteralLength = 4

// rule is a pattern and its replacement template.
type rule struct {
	re   *regexp.Regexp
	repl string
}

var defaultRules = []rule{
	// user:password@ in URLs such as redis://:pw@host or nats://u:pw@host.
	{regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://[^:/@\s]*:)[^@\s]+@`), "${1}" + Placeholder + "@"},
	{regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9._~+/=-]{8,}`), "${1}" + Placeholder},
	{regexp.MustCompile(`(ghp_|gho_|ghs_|github_pat_)[a-zA-Z0-9_]{20,}`), Placeholder},
	{regexp.MustCompile(`AKIA[A-Z0-9]{16}`), Placeholder},
	{regexp.MustCompile(`xox[bp]-[0-9]+-[a-zA-Z0-9-]+`), Placeholder},
}

// Redactor replaces secrets in strings. Safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	rules    []rule
	literals []string
}

// New returns a Redactor with the default patterns and the given literal
// secrets.
func New(secrets ...string) *Redactor {
	r := &Redactor{rules: defaultRules}
	for _, s := range secrets {
		r.AddLiteral(s)
	}
	return r
}

// AddLiteral registers a secret value. Values shorter than
// MinLiteralLength and duplicates are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if len(secret) < MinLiteralLength {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.literals {
		if l == secret {
			return
		}
	}
	r.literals = append(r.literals, secret)
}

// Redact returns s with every known secret replaced by Placeholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	rules, literals := r.rules, r.literals
	r.mu.RUnlock()

	for _, lit := range literals {
		s = strings.ReplaceAll(s, lit, Placeholder)
	}
	for _, rl := range rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return s
}
