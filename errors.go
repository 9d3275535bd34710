package streamhttp

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error taxonomy surfaced by the managers. Protocol-level failures such as an
// unknown session id are mapped to wire responses instead and never reach
// these sentinels.
var (
	// ErrSessionNotFound reports an operation against a session id that is
	// absent from the registry. The managers carry it to clients as the
	// protocol-level not-found response rather than returning it.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEngineInit reports a failure of the engine factory during
	// establishment or a stateless exchange.
	ErrEngineInit = errors.New("engine initialization failed")

	// ErrChannelBind reports a failure to bind a freshly constructed engine to
	// its channel.
	ErrChannelBind = errors.New("channel bind failed")

	// ErrExchange reports a failure during request processing on a bound
	// channel.
	ErrExchange = errors.New("exchange failed")
)

// Stable error codes carried in protocol-level error responses. They sit in
// the implementation-defined JSON-RPC error code range.
const (
	codeBadRequest      = -32000
	codeSessionNotFound = -32001
	codeModeConflict    = -32002
)

// errorResponse builds a buffered protocol-level error response with the given
// HTTP status and a JSON-RPC error body carrying a stable code.
func errorResponse(status, code int, message string) Response {
	body, _ := json.Marshal(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	})
	return NewBufferedResponse(status, []HeaderPair{{Key: "Content-Type", Value: "application/json"}}, body)
}

func sessionNotFoundResponse() Response {
	return errorResponse(http.StatusNotFound, codeSessionNotFound, ErrSessionNotFound.Error())
}

func conflictResponse(message string) Response {
	return errorResponse(http.StatusConflict, codeModeConflict, message)
}

func badRequestResponse(message string) Response {
	return errorResponse(http.StatusBadRequest, codeBadRequest, message)
}

// internalErrorResponse is the generic response for internal failures. It
// deliberately carries no detail, so teardown internals never leak to clients.
func internalErrorResponse() Response {
	return errorResponse(http.StatusInternalServerError, jsonRPCInternalErrorCode, "internal error")
}
