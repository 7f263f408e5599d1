package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kev-ang/ruben/internal/report"
	"github.com/kev-ang/ruben/internal/runner"
	"github.com/kev-ang/ruben/internal/server"
)

func handleRunBenchmark(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	if sc.Registry == nil {
		return mcp.NewToolResultError("engine registry is not configured"), nil
	}
	args := request.GetArguments()

	_, cfg, err := loadConfig(request, sc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load configuration: %v", err)), nil
	}

	opts := runner.Options{
		Registry: sc.Registry,
		Store:    sc.Store,
	}
	if sc.Provisioner != nil {
		opts.Deployer = sc.Provisioner
	}
	if sc.Recorder != nil {
		opts.Observer = sc.Recorder
	}
	if engines, ok := args["engines"].(string); ok && engines != "" {
		for _, name := range strings.Split(engines, ",") {
			if name = strings.TrimSpace(name); name != "" {
				opts.Engines = append(opts.Engines, name)
			}
		}
	}
	if reps, ok := args["repetitions"].(float64); ok {
		if reps < 1 {
			return mcp.NewToolResultError("repetitions must be at least 1"), nil
		}
		opts.Execution.Repetitions = int(reps)
	}
	if timeout, ok := args["query_timeout"].(string); ok && timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil || d <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("invalid query_timeout %q", timeout)), nil
		}
		opts.Execution.QueryTimeout = d
	}
	if sc.OutputDir != "" {
		cfg.Output.Dir = sc.OutputDir
	}

	slog.Info("running benchmark via MCP", "config", cfg.Path, "engines", opts.Engines)
	run, err := runner.Execute(ctx, cfg, opts)
	if run == nil {
		return mcp.NewToolResultError(fmt.Sprintf("benchmark failed: %v", err)), nil
	}

	data, merr := json.MarshalIndent(runSummary(run), "", "  ")
	if merr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal summary: %v", merr)), nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return mcp.NewToolResultError(fmt.Sprintf("benchmark interrupted, partial results:\n%s", data)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("benchmark finished with errors: %v\n%s", err, data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func runSummary(run *runner.Run) map[string]interface{} {
	s := report.Summarize(run.Result)

	engines := make([]map[string]interface{}, 0, len(s.Engines))
	for _, e := range s.Engines {
		entry := map[string]interface{}{
			"engine":     e.Engine,
			"test_cases": e.TestCases,
			"outcomes":   e.Outcomes,
			"succeeded":  e.Succeeded,
			"timeouts":   e.Timeouts,
			"errors":     e.Errors,
			"exhausted":  e.Exhausted,
			"p50":        e.P50.String(),
			"p99":        e.P99.String(),
			"max":        e.Max.String(),
		}
		if e.Error != "" {
			entry["error"] = e.Error
		}
		engines = append(engines, entry)
	}

	return map[string]interface{}{
		"run_id":   s.RunID,
		"name":     s.Name,
		"dir":      run.Dir,
		"duration": s.Duration.String(),
		"engines":  engines,
	}
}
