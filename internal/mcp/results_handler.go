package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kev-ang/ruben/internal/benchmark"
	"github.com/kev-ang/ruben/internal/results"
	"github.com/kev-ang/ruben/internal/server"
)

func registerResultTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// list_runs
	listTool := mcp.NewTool("list_runs",
		mcp.WithDescription("List past benchmark runs, newest first"),
	)
	s.AddTool(listTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListRuns(ctx, request, sc)
	})

	// get_results
	getResultsTool := mcp.NewTool("get_results",
		mcp.WithDescription("Retrieve the full result tree of a benchmark run"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("ID of the run, as returned by run_benchmark or list_runs"),
		),
	)
	s.AddTool(getResultsTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGetResults(ctx, request, sc)
	})

	return nil
}

func handleListRuns(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	var (
		runs []results.RunSummary
		err  error
	)
	if sc.Store != nil {
		runs, err = sc.Store.ListRuns(ctx)
	} else {
		runs, err = results.ScanRuns(sc.OutputDir)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	if runs == nil {
		runs = []results.RunSummary{}
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal runs: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleGetResults(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	runID, _ := request.GetArguments()["run_id"].(string)
	runPath, err := resolveRunPath(sc.OutputDir, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid run_id: %v", err)), nil
	}

	res, err := loadRun(ctx, sc, runID, runPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %q not found: %v", runID, err)), nil
	}

	var buf bytes.Buffer
	if err := results.WriteJSON(&buf, res); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

// loadRun prefers the run store and falls back to the run's results.json.
func loadRun(ctx context.Context, sc *server.ServerContext, runID, runPath string) (*benchmark.BenchmarkResult, error) {
	if sc.Store != nil {
		res, err := sc.Store.Load(ctx, runID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, results.ErrRunNotFound) {
			return nil, err
		}
	}
	return results.ReadJSON(filepath.Join(runPath, results.ResultsFile))
}
