package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mbocsi/gorover/proto"
)

const (
	MCPStdio = "stdio"
	MCPSSE   = "sse"
)

// MCPServer exposes the rover's commands as MCP tools, over stdio or SSE.
type MCPServer struct {
	Server *server.MCPServer
	mode   string
	addr   string
	sse    *server.SSEServer
}

func NewMCPServer(mode, sseAddr string) *MCPServer {
	return &MCPServer{
		Server: server.NewMCPServer("gorover", "1.0.0", server.WithToolCapabilities(false)),
		mode:   mode,
		addr:   sseAddr,
	}
}

// CommandExecutor runs one correlated command.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, params map[string]any) (map[string]any, error)
}

// RegisterTools adds one tool per rover command plus device_status.
func (s *MCPServer) RegisterTools(exec CommandExecutor, status func() proto.StatusFrame) {
	for _, spec := range proto.Commands() {
		s.Server.AddTool(commandTool(spec), commandHandler(spec.Name, exec))
	}

	statusTool := mcp.NewTool("device_status",
		mcp.WithDescription("Report whether the rover is connected to the relay and how many observers are watching"),
	)
	s.Server.AddTool(statusTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.MarshalIndent(status(), "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error encoding status: %v", err)), nil
		}
		return mcp.NewToolResultText(string(b)), nil
	})
}

func commandTool(spec proto.CommandSpec) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Description)}
	for _, p := range spec.Params {
		switch p {
		case "speed":
			opts = append(opts, mcp.WithNumber("speed", mcp.Description("Motor speed from 0 to 255")))
		case "duration_ms":
			opts = append(opts, mcp.WithNumber("duration_ms", mcp.Description("Milliseconds to move; 0 moves until stop")))
		case "text":
			opts = append(opts, mcp.WithString("text", mcp.Required(), mcp.Description("Text to show on the display")))
		}
	}
	return mcp.NewTool(spec.Name, opts...)
}

func commandHandler(name string, exec CommandExecutor) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, _ := request.GetRawArguments().(map[string]any)

		data, err := exec.Execute(ctx, name, params)
		if err != nil {
			var cmdErr *CommandError
			if errors.As(err, &cmdErr) {
				return mcp.NewToolResultError("Device error: " + cmdErr.Message), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("Command %s failed: %v", name, err)), nil
		}

		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error encoding result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(b)), nil
	}
}

func (s *MCPServer) Start() error {
	switch s.mode {
	case MCPStdio:
		slog.Info("Started stdio MCP server")
		defer slog.Info("Shut down stdio MCP server")
		return server.ServeStdio(s.Server)
	case MCPSSE:
		slog.Info("Started SSE MCP server", "addr", s.addr)
		s.sse = server.NewSSEServer(s.Server)
		return s.sse.Start(s.addr)
	default:
		return fmt.Errorf("unknown MCP mode %q", s.mode)
	}
}

func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.sse != nil {
		return s.sse.Shutdown(ctx)
	}
	return nil
}
