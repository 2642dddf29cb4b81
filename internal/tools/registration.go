package tools

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Registration pairs an MCP tool definition with its handler function.
type Registration struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

// RegisterAll adds every Registration to s. Tool names must be unique; on a
// duplicate nothing is registered and an error is returned.
func RegisterAll(s *server.MCPServer, registrations []Registration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	seen := make(map[string]struct{}, len(registrations))
	for _, r := range registrations {
		if _, dup := seen[r.Tool.Name]; dup {
			return fmt.Errorf("duplicate tool %q", r.Tool.Name)
		}
		seen[r.Tool.Name] = struct{}{}
	}

	for _, r := range registrations {
		s.AddTool(r.Tool, r.Handler)
		logger.Debug("registered tool", zap.String("tool", r.Tool.Name))
	}
	logger.Info("tools registered", zap.Int("count", len(registrations)))
	return nil
}
