package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artisan-mcp/artisan-mcp/internal/gateway"
)

type fakeHandler struct {
	mu       sync.Mutex
	commands []string
	sources  []string
	run      gateway.Reply
	listAll  gateway.Reply
	list     gateway.Reply
}

func (f *fakeHandler) ListAuthorizedCommands() gateway.Reply { return f.list }

func (f *fakeHandler) Run(ctx context.Context, command string) gateway.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	f.sources = append(f.sources, gateway.SourceFromContext(ctx))
	return f.run
}

func (f *fakeHandler) ListAllCommands(ctx context.Context) gateway.Reply { return f.listAll }

func (f *fakeHandler) Sources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sources...)
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func call(t *testing.T, s *Server, msg string) rpcReply {
	t.Helper()
	out := s.HandleMessage(context.Background(), []byte(msg))
	require.NotNil(t, out, "expected a response for %s", msg)
	var r rpcReply
	require.NoError(t, json.Unmarshal(out, &r))
	assert.Equal(t, "2.0", r.JSONRPC)
	return r
}

func TestInitialize(t *testing.T) {
	s := NewServer(&fakeHandler{}, "1.2.3")
	r := call(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0"}}}`)
	require.Nil(t, r.Error)
	assert.JSONEq(t, `1`, string(r.ID))

	var res InitializeResult
	require.NoError(t, json.Unmarshal(r.Result, &res))
	assert.Equal(t, "2024-11-05", res.ProtocolVersion)
	assert.Equal(t, Implementation{Name: "Laravel Artisan", Version: "1.2.3"}, res.ServerInfo)
	assert.NotNil(t, res.Capabilities.Tools)
	assert.NotNil(t, res.Capabilities.Resources)
}

func TestNotificationsGetNoReply(t *testing.T) {
	s := NewServer(&fakeHandler{}, "dev")
	assert.Nil(t, s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	assert.Nil(t, s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"no/such/method"}`)))
}

func TestPing(t *testing.T) {
	r := call(t, NewServer(&fakeHandler{}, "dev"), `{"jsonrpc":"2.0","id":"p","method":"ping"}`)
	require.Nil(t, r.Error)
	assert.JSONEq(t, `{}`, string(r.Result))
	assert.JSONEq(t, `"p"`, string(r.ID))
}

func TestToolsList(t *testing.T) {
	r := call(t, NewServer(&fakeHandler{}, "dev"), `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, r.Error)
	var res ListToolsResult
	require.NoError(t, json.Unmarshal(r.Result, &res))
	require.Len(t, res.Tools, 2)
	assert.Equal(t, "run_artisan", res.Tools[0].Name)
	assert.Equal(t, []string{"command"}, res.Tools[0].InputSchema.Required)
	assert.Equal(t, "list_all_artisan_commands", res.Tools[1].Name)
}

func TestToolsCall_RunArtisan(t *testing.T) {
	h := &fakeHandler{run: gateway.Reply{Text: "Routes cached", Status: gateway.StatusOK}}
	r := call(t, NewServer(h, "dev"), `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"run_artisan","arguments":{"command":"route:cache"}}}`)
	require.Nil(t, r.Error)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"Routes cached"}],"isError":false}`, string(r.Result))
	assert.Equal(t, []string{"route:cache"}, h.commands)
}

func TestToolsCall_ReplyErrorSetsIsError(t *testing.T) {
	h := &fakeHandler{run: gateway.Reply{Text: "Error: Command 'x' is not whitelisted. Allowed commands: ", Status: gateway.StatusRejected}}
	r := call(t, NewServer(h, "dev"), `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"run_artisan","arguments":{"command":"x"}}}`)
	require.Nil(t, r.Error)
	var res CallToolResult
	require.NoError(t, json.Unmarshal(r.Result, &res))
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "not whitelisted")
}

func TestToolsCall_ListAll(t *testing.T) {
	h := &fakeHandler{listAll: gateway.Reply{Text: "Available commands:", Status: gateway.StatusOK}}
	r := call(t, NewServer(h, "dev"), `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"list_all_artisan_commands"}}`)
	require.Nil(t, r.Error)
	var res CallToolResult
	require.NoError(t, json.Unmarshal(r.Result, &res))
	assert.Equal(t, "Available commands:", res.Content[0].Text)
}

func TestToolsCall_InvalidParams(t *testing.T) {
	s := NewServer(&fakeHandler{}, "dev")
	for _, msg := range []string{
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"run_artisan","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"run_artisan","arguments":{"command":5}}}`,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"nope"}}`,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":"bad"}`,
	} {
		r := call(t, s, msg)
		require.NotNil(t, r.Error, msg)
		assert.Equal(t, CodeInvalidParams, r.Error.Code, msg)
	}
}

func TestResources(t *testing.T) {
	h := &fakeHandler{list: gateway.Reply{Text: "Whitelisted Artisan commands:\n- cache:clear", Status: gateway.StatusOK}}
	s := NewServer(h, "dev")

	r := call(t, s, `{"jsonrpc":"2.0","id":7,"method":"resources/list"}`)
	require.Nil(t, r.Error)
	var list ListResourcesResult
	require.NoError(t, json.Unmarshal(r.Result, &list))
	require.Len(t, list.Resources, 1)
	assert.Equal(t, "artisan://commands", list.Resources[0].URI)

	r = call(t, s, `{"jsonrpc":"2.0","id":8,"method":"resources/read","params":{"uri":"artisan://commands"}}`)
	require.Nil(t, r.Error)
	var read ReadResourceResult
	require.NoError(t, json.Unmarshal(r.Result, &read))
	require.Len(t, read.Contents, 1)
	assert.Equal(t, h.list.Text, read.Contents[0].Text)

	r = call(t, s, `{"jsonrpc":"2.0","id":9,"method":"resources/read","params":{"uri":"artisan://other"}}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeInvalidParams, r.Error.Code)
}

func TestProtocolErrors(t *testing.T) {
	s := NewServer(&fakeHandler{}, "dev")

	r := call(t, s, `{not json`)
	assert.Equal(t, CodeParseError, r.Error.Code)
	assert.JSONEq(t, `null`, string(r.ID))

	r = call(t, s, `{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	assert.Equal(t, CodeInvalidRequest, r.Error.Code)

	r = call(t, s, `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)
	assert.Equal(t, CodeInvalidRequest, r.Error.Code)

	r = call(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/frobnicate"}`)
	assert.Equal(t, CodeMethodNotFound, r.Error.Code)
}
