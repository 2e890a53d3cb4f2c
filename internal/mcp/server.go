package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/artisan-mcp/artisan-mcp/internal/gateway"
)

const (
	ServerName = "Laravel Artisan"

	ToolRunArtisan      = "run_artisan"
	ToolListAllCommands = "list_all_artisan_commands"
	ResourceCommandsURI = "artisan://commands"
)

// Handler is the gateway as seen by the protocol layer.
type Handler interface {
	ListAuthorizedCommands() gateway.Reply
	Run(ctx context.Context, command string) gateway.Reply
	ListAllCommands(ctx context.Context) gateway.Reply
}

var tools = []Tool{
	{
		Name: ToolRunArtisan,
		Description: "Run a Laravel Artisan command in the configured directory.\n\n" +
			"Args:\n    command: The Artisan command to run (e.g., 'route:list', 'cache:clear')\n\n" +
			"Returns:\n    The output from the Artisan command",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]SchemaProperty{
				"command": {Type: "string", Title: "Command"},
			},
			Required: []string{"command"},
		},
	},
	{
		Name:        ToolListAllCommands,
		Description: "List all available Artisan commands in the Laravel application",
		InputSchema: InputSchema{Type: "object", Properties: map[string]SchemaProperty{}},
	},
}

var resources = []Resource{
	{
		URI:         ResourceCommandsURI,
		Name:        "list_whitelisted_commands",
		Description: "List all whitelisted Artisan commands",
		MimeType:    "text/plain",
	},
}

// Server dispatches decoded JSON-RPC requests to a Handler. It is
// transport-agnostic and safe for concurrent use.
type Server struct {
	h    Handler
	info Implementation
}

func NewServer(h Handler, version string) *Server {
	return &Server{h: h, info: Implementation{Name: ServerName, Version: version}}
}

// HandleMessage decodes one JSON-RPC message and returns the encoded
// response, or nil when the message was a notification.
func (s *Server) HandleMessage(ctx context.Context, raw []byte) []byte {
	resp := s.handle(ctx, raw)
	if resp == nil {
		return nil
	}
	b, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal mcp response", "error", err)
		b, _ = json.Marshal(errorResponse(resp.ID, CodeInternalError, "internal error"))
	}
	return b
}

func (s *Server) handle(ctx context.Context, raw []byte) *Response {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return errorResponse(nil, CodeInvalidRequest, "batch requests are not supported")
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return errorResponse(nil, CodeParseError, "parse error: "+err.Error())
	}
	if req.JSONRPC != JSONRPCVersion || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request")
	}

	result, rpcErr := s.dispatch(ctx, &req)
	if req.IsNotification() {
		if rpcErr != nil {
			slog.Debug("mcp notification failed", "method", req.Method, "error", rpcErr.Message)
		}
		return nil
	}
	if rpcErr != nil {
		return &Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: rpcErr}
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: result}
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, *RPCError) {
	switch req.Method {
	case "initialize":
		var p InitializeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, invalidParams(err)
			}
		}
		slog.Info("mcp client connected", "client", p.ClientInfo.Name, "client_version", p.ClientInfo.Version, "protocol", p.ProtocolVersion)
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: ServerCapabilities{
				Tools:     &ListChangedCapability{},
				Resources: &ResourcesCapability{},
			},
			ServerInfo: s.info,
		}, nil

	case "ping", "notifications/initialized", "notifications/cancelled":
		return struct{}{}, nil

	case "tools/list":
		return ListToolsResult{Tools: tools}, nil

	case "tools/call":
		return s.callTool(ctx, req.Params)

	case "resources/list":
		return ListResourcesResult{Resources: resources}, nil

	case "resources/read":
		var p ReadResourceParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		if p.URI != ResourceCommandsURI {
			return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("unknown resource: %s", p.URI)}
		}
		reply := s.h.ListAuthorizedCommands()
		return ReadResourceResult{Contents: []ResourceContents{{URI: p.URI, MimeType: "text/plain", Text: reply.Text}}}, nil
	}
	return nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}

	var reply gateway.Reply
	switch p.Name {
	case ToolRunArtisan:
		var args struct {
			Command *string `json:"command"`
		}
		if len(p.Arguments) > 0 {
			if err := json.Unmarshal(p.Arguments, &args); err != nil {
				return nil, invalidParams(err)
			}
		}
		if args.Command == nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: "missing required argument: command"}
		}
		reply = s.h.Run(ctx, *args.Command)
	case ToolListAllCommands:
		reply = s.h.ListAllCommands(ctx)
	default:
		return nil, &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("unknown tool: %s", p.Name)}
	}
	return CallToolResult{
		Content: []Content{{Type: "text", Text: reply.Text}},
		IsError: reply.IsError(),
	}, nil
}

func invalidParams(err error) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
}

func errorResponse(id json.RawMessage, code int, msg string) *Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Error: &RPCError{Code: code, Message: msg}}
}
