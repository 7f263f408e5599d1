package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kev-ang/ruben/internal/config"
	"github.com/kev-ang/ruben/internal/server"
)

func registerBenchmarkTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// list_engines
	enginesTool := mcp.NewTool("list_engines",
		mcp.WithDescription("List the engine types benchmarks can use"),
	)
	s.AddTool(enginesTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListEngines(ctx, request, sc)
	})

	// list_configs
	configsTool := mcp.NewTool("list_configs",
		mcp.WithDescription("List benchmark configurations with their engines and test cases"),
	)
	s.AddTool(configsTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListConfigs(ctx, request, sc)
	})

	// validate_config
	validateTool := mcp.NewTool("validate_config",
		mcp.WithDescription("Validate a benchmark configuration and check that every engine type is known"),
		mcp.WithString("config",
			mcp.Required(),
			mcp.Description("File name of the configuration in the config directory (e.g. 'chain.yaml')"),
		),
	)
	s.AddTool(validateTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleValidateConfig(ctx, request, sc)
	})

	// run_benchmark
	runTool := mcp.NewTool("run_benchmark",
		mcp.WithDescription("Run a benchmark configuration. Engines with a server section are deployed to the cluster first and torn down afterwards."),
		mcp.WithString("config",
			mcp.Required(),
			mcp.Description("File name of the configuration in the config directory"),
		),
		mcp.WithString("engines",
			mcp.Description("Comma-separated engine names to run (default: all configured engines)"),
		),
		mcp.WithNumber("repetitions",
			mcp.Description("Attempts per query (default: from config)"),
		),
		mcp.WithString("query_timeout",
			mcp.Description("Deadline per query attempt as a Go duration, e.g. '90s' (default: from config)"),
		),
	)
	s.AddTool(runTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleRunBenchmark(ctx, request, sc)
	})

	return nil
}

func handleListEngines(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	if sc.Registry == nil {
		return mcp.NewToolResultError("engine registry is not configured"), nil
	}
	data, err := json.MarshalIndent(sc.Registry.Types(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal engine types: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

type configInfo struct {
	File        string   `json:"file"`
	Name        string   `json:"name"`
	Engines     []string `json:"engines"`
	TestCases   int      `json:"test_cases"`
	Repetitions int      `json:"repetitions"`
	Timeout     string   `json:"query_timeout"`
	Error       string   `json:"error,omitempty"`
}

func describeConfig(file string, cfg *config.Benchmark) configInfo {
	policy := cfg.Policy()
	info := configInfo{
		File:        file,
		Name:        cfg.Name,
		TestCases:   len(cfg.TestCases),
		Repetitions: policy.Repetitions,
		Timeout:     policy.QueryTimeout.String(),
	}
	for _, e := range cfg.Engines {
		info.Engines = append(info.Engines, e.Name)
	}
	return info
}

func handleListConfigs(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	files, err := config.List(sc.ConfigDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list configurations: %v", err)), nil
	}

	configs := make([]configInfo, 0, len(files))
	for _, file := range files {
		path, err := resolveConfigPath(sc.ConfigDir, file)
		if err != nil {
			continue
		}
		cfg, err := config.Load(path)
		if err != nil {
			configs = append(configs, configInfo{File: file, Error: err.Error()})
			continue
		}
		configs = append(configs, describeConfig(file, cfg))
	}

	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal configurations: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func loadConfig(request mcp.CallToolRequest, sc *server.ServerContext) (string, *config.Benchmark, error) {
	file, _ := request.GetArguments()["config"].(string)
	path, err := resolveConfigPath(sc.ConfigDir, file)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", nil, err
	}
	return file, cfg, nil
}

func handleValidateConfig(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	file, cfg, err := loadConfig(request, sc)
	if err == nil && sc.Registry != nil {
		err = cfg.CheckEngineTypes(sc.Registry)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid configuration: %v", err)), nil
	}
	data, err := json.MarshalIndent(describeConfig(file, cfg), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal configuration: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
