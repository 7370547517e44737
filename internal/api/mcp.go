package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/omnitech/omnidesk/internal/toolserver"
)

// ToolBackend is the operation table and resource catalog exposed over MCP.
type ToolBackend interface {
	Operations() []toolserver.Operation
	Dispatch(ctx context.Context, name string, args map[string]any) (any, error)
	Resources() []toolserver.Resource
	ReadResource(ctx context.Context, uri string) (any, error)
}

// NewMCPServer creates an MCP server with every operation and resource of
// backend registered. Tool failures are returned as isError results carrying
// a toolserver.ErrorPayload, never as protocol errors.
func NewMCPServer(backend ToolBackend, version string) *server.MCPServer {
	hooks := &server.Hooks{}
	// Calls to unregistered tools are rejected by the protocol layer before
	// any handler runs; replay them through Dispatch so they are still counted.
	hooks.AddOnError(func(ctx context.Context, _ any, method mcp.MCPMethod, message any, err error) {
		if method != mcp.MethodToolsCall {
			return
		}
		var req mcp.CallToolRequest
		switch m := message.(type) {
		case *mcp.CallToolRequest:
			req = *m
		case mcp.CallToolRequest:
			req = m
		default:
			return
		}
		if _, known := lookupOperation(backend, req.Params.Name); !known {
			_, _ = backend.Dispatch(ctx, req.Params.Name, req.GetArguments())
		}
	})

	s := server.NewMCPServer(
		"omnidesk",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("omnidesk: OmniTech customer support knowledge base, customer records and ticketing."),
		server.WithHooks(hooks),
		server.WithRecovery(),
	)

	for _, op := range backend.Operations() {
		s.AddTool(toolFor(op), mcpDispatch(backend, op.Name))
	}

	for _, r := range backend.Resources() {
		s.AddResource(
			mcp.NewResource(r.URI, r.Name,
				mcp.WithResourceDescription(r.Description),
				mcp.WithMIMEType(r.MIMEType),
			),
			mcpResource(backend),
		)
	}

	return s
}

func lookupOperation(backend ToolBackend, name string) (toolserver.Operation, bool) {
	for _, op := range backend.Operations() {
		if op.Name == name {
			return op, true
		}
	}
	return toolserver.Operation{}, false
}

// toolFor translates an operation's parameter descriptors into an MCP input schema.
func toolFor(op toolserver.Operation) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(op.Description)}
	for _, p := range op.Params {
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			props = append(props, mcp.Required())
		}
		switch p.Type {
		case toolserver.TypeInteger:
			if p.Min != 0 || p.Max != 0 {
				props = append(props, mcp.Min(float64(p.Min)), mcp.Max(float64(p.Max)))
			}
			opts = append(opts, mcp.WithNumber(p.Name, props...))
		default:
			if len(p.Enum) > 0 {
				props = append(props, mcp.Enum(p.Enum...))
			}
			opts = append(opts, mcp.WithString(p.Name, props...))
		}
	}
	return mcp.NewTool(op.Name, opts...)
}

func mcpDispatch(backend ToolBackend, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := backend.Dispatch(ctx, name, req.GetArguments())
		if err != nil {
			return mcpToolError(err), nil
		}
		b, err := json.Marshal(result)
		if err != nil {
			return mcpToolError(fmt.Errorf("marshaling %s result: %w", name, err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResource(backend ToolBackend) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		v, err := backend.ReadResource(ctx, req.Params.URI)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", req.Params.URI, err)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s: %w", req.Params.URI, err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpToolError(err error) *mcp.CallToolResult {
	b, _ := json.Marshal(toolserver.NewErrorPayload(err))
	return mcpError(string(b))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
