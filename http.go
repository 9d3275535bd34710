package streamhttp

import (
	"io"
	"log/slog"
	"net/http"
)

// Mode selects how the Handler maps incoming requests onto the managers.
type Mode int

// Handler modes. ModeAuto serves session-bound requests statefully and
// everything else statelessly; the other two pin the deployment to a single
// interaction mode.
const (
	ModeAuto Mode = iota
	ModeStateful
	ModeStateless
)

// HandlerOption represents the options for the Handler.
type HandlerOption func(*Handler)

// Handler is the HTTP routing layer over the managers. It implements
// http.Handler: POST requests carry exchanges (establishment when no session
// header is present), DELETE requests terminate sessions, and everything else
// is rejected with a protocol-level response.
//
// Instances should be created using NewHandler.
type Handler struct {
	mode      Mode
	stateful  *StatefulManager
	stateless *StatelessManager
	logger    *slog.Logger
}

// NewHandler creates a Handler over the given managers. Either manager may be
// nil; the default mode is derived from what is provided: ModeAuto when both
// managers are present, otherwise the mode of the one that is.
func NewHandler(stateful *StatefulManager, stateless *StatelessManager, options ...HandlerOption) *Handler {
	h := &Handler{
		stateful:  stateful,
		stateless: stateless,
		logger:    slog.Default(),
	}
	switch {
	case stateful != nil && stateless != nil:
		h.mode = ModeAuto
	case stateful != nil:
		h.mode = ModeStateful
	default:
		h.mode = ModeStateless
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// WithMode returns a HandlerOption that pins the handler to a specific mode
// instead of the one derived from the provided managers.
func WithMode(mode Mode) HandlerOption {
	return func(h *Handler) {
		h.mode = mode
	}
}

// WithHandlerLogger returns a HandlerOption that configures the logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		h.write(w, errorResponse(http.StatusMethodNotAllowed, codeBadRequest, "method not allowed"))
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.write(w, badRequestResponse("failed to read request body"))
		return
	}

	sessionID := r.Header.Get(SessionIDHeader)

	var resp Response
	switch {
	case sessionID != "":
		if h.mode == ModeStateless {
			h.write(w, conflictResponse("stateless deployment does not accept session identifiers"))
			return
		}
		resp, err = h.stateful.Dispatch(r.Context(), sessionID, r.Header, body)
	case h.mode == ModeStateless:
		resp, err = h.stateless.Handle(r.Context(), r.Header, body)
	case isEstablishRequest(body):
		resp, err = h.stateful.EstablishSession(r.Context(), r.Header, body)
	case h.mode == ModeAuto:
		resp, err = h.stateless.Handle(r.Context(), r.Header, body)
	default:
		// Stateful-only deployments require a session on every non-establishment
		// request; this is the client's protocol error, not a manager failure.
		h.write(w, badRequestResponse("missing "+SessionIDHeader+" header"))
		return
	}

	if err != nil {
		h.logger.Error("failed to process request", slog.String("err", err.Error()))
		h.write(w, internalErrorResponse())
		return
	}
	h.write(w, resp)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		h.write(w, badRequestResponse("missing "+SessionIDHeader+" header"))
		return
	}
	if h.mode == ModeStateless {
		h.write(w, conflictResponse("stateless deployment does not accept session identifiers"))
		return
	}

	resp, err := h.stateful.Terminate(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to terminate session",
			slog.String("sessionID", sessionID), slog.String("err", err.Error()))
		h.write(w, internalErrorResponse())
		return
	}
	h.write(w, resp)
}

func (h *Handler) write(w http.ResponseWriter, resp Response) {
	if err := WriteResponse(w, resp); err != nil {
		h.logger.Error("failed to write response", slog.String("err", err.Error()))
	}
}
