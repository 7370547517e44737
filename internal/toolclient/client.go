// Package toolclient is the agent side of the tool protocol: it discovers the
// tool server's operations and maps structured error results back to the
// toolserver sentinels.
package toolclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/omnitech/omnidesk/internal/logging"
	"github.com/omnitech/omnidesk/internal/toolserver"
)

// ErrTransport marks failures of the connection itself (closed pipe, timeout,
// malformed frames). Callers may retry these.
var ErrTransport = errors.New("tool transport failure")

// ToolInfo is one discovered operation.
type ToolInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
}

// Client is one protocol session with a tool server.
type Client struct {
	mcp    *client.Client
	tools  map[string]ToolInfo
	logger *zap.Logger
}

// NewInProcess connects to srv within the same process.
func NewInProcess(ctx context.Context, srv *server.MCPServer, logger *zap.Logger) (*Client, error) {
	c, err := client.NewInProcessClient(srv)
	if err != nil {
		return nil, fmt.Errorf("%w: creating in-process client: %v", ErrTransport, err)
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: starting in-process client: %v", ErrTransport, err)
	}
	return connect(ctx, c, logger)
}

// NewStdio spawns command as a subprocess tool server speaking the protocol
// over its stdin and stdout.
func NewStdio(ctx context.Context, command string, env []string, args []string, logger *zap.Logger) (*Client, error) {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: spawning %s: %v", ErrTransport, command, err)
	}
	if stderr, ok := client.GetStderr(c); ok {
		go forwardStderr(stderr, logging.OrNop(logger).Named("toolserver"))
	}
	return connect(ctx, c, logger)
}

// forwardStderr copies the subprocess log lines into logger until the pipe
// closes. An undrained pipe would eventually block the child.
func forwardStderr(r io.Reader, logger *zap.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		logger.Debug(sc.Text())
	}
}

// connect performs the handshake and the discovery call.
func connect(ctx context.Context, c *client.Client, logger *zap.Logger) (*Client, error) {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "omnidesk-agent", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: initialize: %v", ErrTransport, err)
	}

	list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: listing tools: %v", ErrTransport, err)
	}

	tools := make(map[string]ToolInfo, len(list.Tools))
	for _, t := range list.Tools {
		tools[t.Name] = ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Required:    t.InputSchema.Required,
		}
	}

	logger = logging.OrNop(logger)
	logger.Debug("tool server connected", zap.Int("tools", len(tools)))

	return &Client{mcp: c, tools: tools, logger: logger}, nil
}

// Tools returns the discovered operations sorted by name.
func (c *Client) Tools() []ToolInfo {
	out := make([]ToolInfo, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether the server advertised name during discovery.
func (c *Client) Has(name string) bool {
	_, ok := c.tools[name]
	return ok
}

// Call invokes the named operation and decodes its JSON result into out (which
// may be nil). Structured error results come back as the matching toolserver
// sentinel wrapped with the server's message; connection failures wrap
// ErrTransport.
func (c *Client) Call(ctx context.Context, name string, args map[string]any, out any) error {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.mcp.CallTool(ctx, req)
	if err != nil {
		// The server rejects unregistered names at the protocol level. The call
		// is still sent so the server records it.
		if !c.Has(name) && ctx.Err() == nil {
			return fmt.Errorf("%w: %q", toolserver.ErrToolNotFound, name)
		}
		return fmt.Errorf("%w: calling %s: %v", ErrTransport, name, err)
	}

	text, ok := firstText(res.Content)
	if !ok {
		return fmt.Errorf("%w: %s returned no text content", ErrTransport, name)
	}

	if res.IsError {
		return decodeError(name, text)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: decoding %s result: %v", ErrTransport, name, err)
	}
	return nil
}

// ReadResource fetches a catalog entry's JSON text.
func (c *Client) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri

	res, err := c.mcp.ReadResource(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrTransport, uri, err)
	}
	for _, rc := range res.Contents {
		switch v := rc.(type) {
		case mcp.TextResourceContents:
			return json.RawMessage(v.Text), nil
		case *mcp.TextResourceContents:
			return json.RawMessage(v.Text), nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no text content", ErrTransport, uri)
}

func (c *Client) Close() error {
	return c.mcp.Close()
}

func decodeError(name, text string) error {
	var payload toolserver.ErrorPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil || payload.Error.Code == "" {
		return fmt.Errorf("%s: %s", name, text)
	}
	if sentinel := toolserver.SentinelFor(payload.Error.Code); sentinel != nil {
		return &RemoteError{Code: payload.Error.Code, Message: payload.Error.Message, sentinel: sentinel}
	}
	return &RemoteError{Code: payload.Error.Code, Message: payload.Error.Message}
}

// RemoteError is a structured error result returned by the tool server.
type RemoteError struct {
	Code     string
	Message  string
	sentinel error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.sentinel
}

func firstText(content []mcp.Content) (string, bool) {
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			return v.Text, true
		case *mcp.TextContent:
			return v.Text, true
		}
	}
	return "", false
}
