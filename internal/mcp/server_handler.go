package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kev-ang/ruben/internal/server"
)

func registerServerTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// list_servers
	listTool := mcp.NewTool("list_servers",
		mcp.WithDescription("List engine servers deployed to the cluster by ruben"),
	)
	s.AddTool(listTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListServers(ctx, request, sc)
	})

	// teardown_server
	teardownTool := mcp.NewTool("teardown_server",
		mcp.WithDescription("Delete the deployment and service of an engine server left behind by an aborted run"),
		mcp.WithString("engine",
			mcp.Required(),
			mcp.Description("Engine name the server was deployed for"),
		),
	)
	s.AddTool(teardownTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleTeardownServer(ctx, request, sc)
	})

	return nil
}

func handleListServers(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	if sc.Provisioner == nil {
		return mcp.NewToolResultError("Kubernetes provisioner is not configured (not running against a cluster)"), nil
	}

	statuses, err := sc.Provisioner.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list servers: %v", err)), nil
	}

	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal statuses: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleTeardownServer(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	if sc.Provisioner == nil {
		return mcp.NewToolResultError("Kubernetes provisioner is not configured"), nil
	}

	engine, ok := request.GetArguments()["engine"].(string)
	if !ok || engine == "" {
		return mcp.NewToolResultError("engine is required"), nil
	}

	if err := sc.Provisioner.Teardown(ctx, engine); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to teardown server: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("server for engine %q deleted", engine)), nil
}
