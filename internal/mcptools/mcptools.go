// Package mcptools exposes the scheduler to MCP clients: job and lock
// inspection, schedule tooling and, when enabled, lock release.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/cronexpr"
	"github.com/flemzord/cronrun/internal/history"
	"github.com/flemzord/cronrun/internal/lock"
)

// Scope declares what kind of access a tool requires.
type Scope string

// Scope values.
const (
	ScopeReadOnly  Scope = "read_only"
	ScopeReadWrite Scope = "read_write"
)

const (
	defaultCount = 5
	maxCount     = 100
)

// Deps are the components the tools read from. Registry and Locks are
// required; History is optional.
type Deps struct {
	Registry *cron.Registry
	Locks    *lock.Manager
	History  history.Store
	Clock    clockwork.Clock
}

// Tools holds the tool handlers.
type Tools struct {
	deps Deps
}

// New returns the tool set.
func New(deps Deps) *Tools {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Tools{deps: deps}
}

type entry struct {
	tool    mcp.Tool
	scope   Scope
	handler server.ToolHandlerFunc
}

func (t *Tools) entries() []entry {
	entries := []entry{
		{
			tool: mcp.NewTool("list_jobs",
				mcp.WithDescription("List registered cron jobs in priority order with their next run."),
				mcp.WithBoolean("enabled_only", mcp.Description("Only include enabled jobs.")),
			),
			scope:   ScopeReadOnly,
			handler: t.listJobs,
		},
		{
			tool: mcp.NewTool("next_runs",
				mcp.WithDescription("Compute upcoming run times of a cron expression."),
				mcp.WithString("expression", mcp.Required(), mcp.Description("Five-field cron expression.")),
				mcp.WithNumber("count", mcp.Description("Number of runs to return (default 5, max 100).")),
			),
			scope:   ScopeReadOnly,
			handler: t.nextRuns,
		},
		{
			tool: mcp.NewTool("describe_schedule",
				mcp.WithDescription("Explain a cron expression in plain English."),
				mcp.WithString("expression", mcp.Required(), mcp.Description("Five-field cron expression.")),
			),
			scope:   ScopeReadOnly,
			handler: t.describeSchedule,
		},
		{
			tool: mcp.NewTool("list_locks",
				mcp.WithDescription("List scheduler and job locks with their staleness."),
			),
			scope:   ScopeReadOnly,
			handler: t.listLocks,
		},
		{
			tool: mcp.NewTool("release_lock",
				mcp.WithDescription("Force-release a lock by name, e.g. job:backup or global."),
				mcp.WithString("name", mcp.Required(), mcp.Description("Lock name.")),
			),
			scope:   ScopeReadWrite,
			handler: t.releaseLock,
		},
	}
	if t.deps.History != nil {
		entries = append(entries, entry{
			tool: mcp.NewTool("recent_results",
				mcp.WithDescription("Show recent job results, newest first."),
				mcp.WithString("job", mcp.Description("Restrict to one job.")),
				mcp.WithNumber("limit", mcp.Description("Maximum entries (default 5, max 100).")),
			),
			scope:   ScopeReadOnly,
			handler: t.recentResults,
		})
	}
	return entries
}

// Register adds the tools to s. Read-write tools are added only when
// allowWrite is set.
func (t *Tools) Register(s *server.MCPServer, allowWrite bool) []string {
	var names []string
	for _, e := range t.entries() {
		if e.scope == ScopeReadWrite && !allowWrite {
			continue
		}
		s.AddTool(e.tool, e.handler)
		names = append(names, e.tool.Name)
	}
	return names
}

// NewServer builds an MCP server carrying the tools.
func NewServer(version string, deps Deps, allowWrite bool) *server.MCPServer {
	s := server.NewMCPServer("cronrun", version, server.WithToolCapabilities(false))
	New(deps).Register(s, allowWrite)
	return s
}

func (t *Tools) listJobs(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	registry := t.deps.Registry
	jobs := registry.JobsByPriority(req.GetBool("enabled_only", false))
	out := make([]cron.JobInfo, 0, len(jobs))
	for _, j := range jobs {
		if info, ok := registry.Info(j.Name()); ok {
			out = append(out, info)
		}
	}
	return jsonResult(out)
}

func (t *Tools) nextRuns(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	expr, err := cronexpr.Parse(src)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	count := clampCount(req.GetInt("count", defaultCount))

	now := t.deps.Clock.Now().In(t.deps.Registry.Location())
	runs := expr.Upcoming(now, count)
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Format(time.RFC3339))
	}
	return jsonResult(map[string]any{
		"expression":  expr.String(),
		"description": expr.Describe(),
		"runs":        out,
	})
}

func (t *Tools) describeSchedule(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	expr, err := cronexpr.Parse(src)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(expr.Describe()), nil
}

type lockView struct {
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Stale      bool      `json:"stale"`
}

func (t *Tools) listLocks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	statuses, err := t.deps.Locks.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([]lockView, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, lockView{
			Name:       s.Name,
			PID:        s.PID,
			Hostname:   s.Hostname,
			AcquiredAt: s.AcquiredAt,
			ExpiresAt:  s.ExpiresAt(),
			Stale:      s.Stale,
		})
	}
	return jsonResult(out)
}

func (t *Tools) releaseLock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	released, err := t.deps.Locks.ForceRelease(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !released {
		return mcp.NewToolResultError(fmt.Sprintf("lock %q not found", name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("released %s", name)), nil
}

func (t *Tools) recentResults(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := t.deps.History.Recent(ctx, req.GetString("job", ""), clampCount(req.GetInt("limit", defaultCount)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return jsonResult(entries)
}

func clampCount(n int) int {
	if n <= 0 {
		return defaultCount
	}
	return min(n, maxCount)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcptools: marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
