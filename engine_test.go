package streamhttp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	streamhttp "github.com/MegaGrindStone/go-streamhttp"
)

// echoToolServer implements ToolServer with a single echo tool.
type echoToolServer struct{}

func (echoToolServer) ListTools(_ context.Context, _ streamhttp.ListToolsParams) (streamhttp.ListToolsResult, error) {
	return streamhttp.ListToolsResult{
		Tools: []streamhttp.Tool{
			{
				Name:        "echo",
				Description: "Echoes back the given message",
			},
		},
	}, nil
}

func (echoToolServer) CallTool(_ context.Context, params streamhttp.CallToolParams) (streamhttp.CallToolResult, error) {
	if params.Name != "echo" {
		return streamhttp.CallToolResult{}, fmt.Errorf("unknown tool: %s", params.Name)
	}

	var args struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return streamhttp.CallToolResult{}, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	return streamhttp.CallToolResult{
		Content: []streamhttp.Content{
			{Type: streamhttp.ContentTypeText, Text: args.Message},
		},
	}, nil
}

func boundEngineChannel(t *testing.T, options ...streamhttp.ServerEngineOption) *streamhttp.Channel {
	t.Helper()

	eng := streamhttp.NewServerEngine(streamhttp.Info{Name: "test-engine", Version: "0.1.0"}, options...)
	ch := streamhttp.NewChannel(streamhttp.ChannelOptions{})
	if err := eng.Bind(ch); err != nil {
		t.Fatalf("failed to bind engine: %v", err)
	}
	return ch
}

func exchange(t *testing.T, ch *streamhttp.Channel, body []byte) streamhttp.JSONRPCMessage {
	t.Helper()

	resp, err := ch.ProcessExchange(context.Background(), nil, body)
	if err != nil {
		t.Fatalf("failed to process exchange: %v", err)
	}
	if resp.Kind != streamhttp.ResponseStreaming {
		t.Fatalf("got response kind %d, want streaming", resp.Kind)
	}
	return readMessage(t, resp.Stream)
}

func TestServerEngineInitialize(t *testing.T) {
	ch := boundEngineChannel(t, streamhttp.WithToolServer(echoToolServer{}))

	msg := exchange(t, ch, initializeBody("1"))
	if msg.Error != nil {
		t.Fatalf("unexpected error: %v", msg.Error)
	}

	var result struct {
		ProtocolVersion string          `json:"protocolVersion"`
		ServerInfo      streamhttp.Info `json:"serverInfo"`
		Capabilities    struct {
			Tools *struct{} `json:"tools"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("got protocol version %q, want %q", result.ProtocolVersion, "2024-11-05")
	}
	if result.ServerInfo.Name != "test-engine" {
		t.Errorf("got server name %q, want %q", result.ServerInfo.Name, "test-engine")
	}
	if result.Capabilities.Tools == nil {
		t.Error("tools capability must be advertised when a tool server is configured")
	}
}

func TestServerEngineInitializeUnsupportedVersion(t *testing.T) {
	ch := boundEngineChannel(t)

	body := []byte(`{"jsonrpc":"2.0","id":"1","method":"initialize",` +
		`"params":{"protocolVersion":"1999-01-01","clientInfo":{"name":"test","version":"0.1.0"}}}`)
	msg := exchange(t, ch, body)
	if msg.Error == nil || msg.Error.Code != -32600 {
		t.Fatalf("got error %v, want invalid request code -32600", msg.Error)
	}
}

func TestServerEnginePing(t *testing.T) {
	ch := boundEngineChannel(t)

	msg := exchange(t, ch, pingBody("7"))
	if msg.Error != nil {
		t.Fatalf("unexpected error: %v", msg.Error)
	}
	if msg.ID != "7" {
		t.Errorf("got message id %q, want %q", msg.ID, "7")
	}
}

func TestServerEngineUnknownMethod(t *testing.T) {
	ch := boundEngineChannel(t)

	msg := exchange(t, ch, []byte(`{"jsonrpc":"2.0","id":"1","method":"no/such/method"}`))
	if msg.Error == nil || msg.Error.Code != -32601 {
		t.Fatalf("got error %v, want method not found code -32601", msg.Error)
	}
}

func TestServerEngineToolsWithoutToolServer(t *testing.T) {
	ch := boundEngineChannel(t)

	msg := exchange(t, ch, []byte(`{"jsonrpc":"2.0","id":"1","method":"tools/list"}`))
	if msg.Error == nil || msg.Error.Code != -32601 {
		t.Fatalf("got error %v, want method not found code -32601", msg.Error)
	}
}

func TestServerEngineToolsListAndCall(t *testing.T) {
	ch := boundEngineChannel(t, streamhttp.WithToolServer(echoToolServer{}))

	msg := exchange(t, ch, []byte(`{"jsonrpc":"2.0","id":"1","method":"tools/list"}`))
	if msg.Error != nil {
		t.Fatalf("unexpected error: %v", msg.Error)
	}
	var listResult streamhttp.ListToolsResult
	if err := json.Unmarshal(msg.Result, &listResult); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(listResult.Tools) != 1 || listResult.Tools[0].Name != "echo" {
		t.Fatalf("got tools %v, want the echo tool", listResult.Tools)
	}

	msg = exchange(t, ch, []byte(`{"jsonrpc":"2.0","id":"2","method":"tools/call",`+
		`"params":{"name":"echo","arguments":{"message":"hello"}}}`))
	if msg.Error != nil {
		t.Fatalf("unexpected error: %v", msg.Error)
	}
	var callResult streamhttp.CallToolResult
	if err := json.Unmarshal(msg.Result, &callResult); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(callResult.Content) != 1 || callResult.Content[0].Text != "hello" {
		t.Fatalf("got content %v, want echoed message", callResult.Content)
	}
}

func TestServerEngineRejectsSecondBind(t *testing.T) {
	eng := streamhttp.NewServerEngine(streamhttp.Info{Name: "test-engine", Version: "0.1.0"})
	if err := eng.Bind(streamhttp.NewChannel(streamhttp.ChannelOptions{})); err != nil {
		t.Fatalf("failed to bind engine: %v", err)
	}
	if err := eng.Bind(streamhttp.NewChannel(streamhttp.ChannelOptions{})); err == nil {
		t.Fatal("expected error from second bind")
	}
}

func TestServerEngineCloseIsIdempotent(t *testing.T) {
	eng := streamhttp.NewServerEngine(streamhttp.Info{Name: "test-engine", Version: "0.1.0"})
	if err := eng.Close(); err != nil {
		t.Fatalf("failed to close engine: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("second close must not fail: %v", err)
	}
}
