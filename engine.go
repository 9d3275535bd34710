package streamhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ToolServer defines the interface for the tool business logic an engine
// delegates to. Implementations are treated as deterministic, single-shot
// collaborators; the engine owns no tool state of its own.
type ToolServer interface {
	// ListTools returns a paginated list of available tools.
	// Returns error if the operation fails or the context is cancelled.
	ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error)

	// CallTool executes a specific tool with the given arguments.
	// Returns error if the tool is not found, arguments are invalid, execution
	// fails, or the context is cancelled.
	CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error)
}

// ServerEngineOption represents the options for the ServerEngine.
type ServerEngineOption func(*ServerEngine)

// ServerEngine is a minimal protocol engine. It answers the establishment
// handshake, ping, and the tool methods, and is bound to exactly one channel
// for its lifetime. Instances should be created through NewServerEngine or,
// more commonly, produced on demand by the factory from NewEngineFactory.
type ServerEngine struct {
	info         Info
	instructions string
	toolServer   ToolServer
	logger       *slog.Logger

	mu     sync.Mutex
	bound  bool
	closed bool
}

// NewServerEngine creates a new protocol engine with the specified identity.
func NewServerEngine(info Info, options ...ServerEngineOption) *ServerEngine {
	e := &ServerEngine{
		info:   info,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// NewEngineFactory adapts NewServerEngine to the EngineFactory contract the
// managers consume, producing one fresh engine per call.
func NewEngineFactory(info Info, options ...ServerEngineOption) EngineFactory {
	return func(context.Context) (Engine, error) {
		return NewServerEngine(info, options...), nil
	}
}

// WithToolServer returns a ServerEngineOption that configures the tool server implementation.
func WithToolServer(srv ToolServer) ServerEngineOption {
	return func(e *ServerEngine) {
		e.toolServer = srv
	}
}

// WithEngineInstructions returns a ServerEngineOption that configures the instructions
// returned from the establishment handshake.
func WithEngineInstructions(instructions string) ServerEngineOption {
	return func(e *ServerEngine) {
		e.instructions = instructions
	}
}

// WithEngineLogger returns a ServerEngineOption that configures the logger.
func WithEngineLogger(logger *slog.Logger) ServerEngineOption {
	return func(e *ServerEngine) {
		e.logger = logger
	}
}

// Bind attaches the engine to ch, installing its exchange handler. An engine
// binds at most once.
func (e *ServerEngine) Bind(ch *Channel) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine is closed")
	}
	if e.bound {
		return errors.New("engine is already bound")
	}
	if err := ch.Attach(e.handleMessage); err != nil {
		return fmt.Errorf("failed to attach to channel: %w", err)
	}
	e.bound = true
	return nil
}

// Close releases the engine. It is idempotent and never fails.
func (e *ServerEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *ServerEngine) handleMessage(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error) {
	switch msg.Method {
	case methodInitialize:
		return e.handleInitialize(msg)
	case methodPing:
		return resultMessage(msg.ID, struct{}{})
	case methodNotificationsInitialized:
		return JSONRPCMessage{}, nil
	case MethodToolsList:
		return e.handleToolsList(ctx, msg)
	case MethodToolsCall:
		return e.handleToolsCall(ctx, msg)
	default:
		return errorMessage(msg.ID, jsonRPCMethodNotFoundCode, fmt.Sprintf("method not found: %s", msg.Method)), nil
	}
}

func (e *ServerEngine) handleInitialize(msg JSONRPCMessage) (JSONRPCMessage, error) {
	var params initializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorMessage(msg.ID, jsonRPCInvalidParamsCode, "invalid params"), nil
	}

	if params.ProtocolVersion != protocolVersion {
		e.logger.Warn("unsupported protocol version",
			slog.String("requested", params.ProtocolVersion), slog.String("supported", protocolVersion))
		return errorMessage(msg.ID, jsonRPCInvalidRequestCode, "unsupported protocol version"), nil
	}

	capabilities := ServerCapabilities{}
	if e.toolServer != nil {
		capabilities.Tools = &ToolsCapability{}
	}

	return resultMessage(msg.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    capabilities,
		ServerInfo:      e.info,
		Instructions:    e.instructions,
	})
}

func (e *ServerEngine) handleToolsList(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error) {
	if e.toolServer == nil {
		return errorMessage(msg.ID, jsonRPCMethodNotFoundCode, "tools are not supported"), nil
	}

	var params ListToolsParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorMessage(msg.ID, jsonRPCInvalidParamsCode, "invalid params"), nil
		}
	}

	result, err := e.toolServer.ListTools(ctx, params)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to list tools: %w", err)
	}
	return resultMessage(msg.ID, result)
}

func (e *ServerEngine) handleToolsCall(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error) {
	if e.toolServer == nil {
		return errorMessage(msg.ID, jsonRPCMethodNotFoundCode, "tools are not supported"), nil
	}

	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorMessage(msg.ID, jsonRPCInvalidParamsCode, "invalid params"), nil
	}

	result, err := e.toolServer.CallTool(ctx, params)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to call tool: %w", err)
	}
	return resultMessage(msg.ID, result)
}

func resultMessage(id MustString, result any) (JSONRPCMessage, error) {
	resBs, err := json.Marshal(result)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to marshal result: %w", err)
	}
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	}, nil
}

func errorMessage(id MustString, code int, message string) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
}
