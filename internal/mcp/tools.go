package mcp

import (
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kev-ang/ruben/internal/server"
)

// RegisterTools registers all MCP tools with the server.
func RegisterTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if err := registerBenchmarkTools(s, sc); err != nil {
		return err
	}
	if err := registerResultTools(s, sc); err != nil {
		return err
	}
	if err := registerServerTools(s, sc); err != nil {
		return err
	}
	return nil
}
