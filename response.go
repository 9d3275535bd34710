package streamhttp

import (
	"fmt"
	"io"
	"net/http"
)

// ResponseKind discriminates the two shapes a Response can take.
type ResponseKind int

// Response shapes. The distinction matters for resource teardown: buffered
// responses can be cleaned up as soon as the handler returns, while streaming
// responses must keep their resources alive until the stream is drained.
const (
	ResponseBuffered ResponseKind = iota
	ResponseStreaming
)

// Response is the uniform result of an exchange, a closed union of a buffered
// body and a byte-stream handle. Exactly one of Body and Stream is populated,
// according to Kind. Headers use the channel's flat pair representation; use
// WriteResponse to turn a Response into wire bytes.
type Response struct {
	Kind       ResponseKind
	StatusCode int
	Header     []HeaderPair

	// Body holds the fully materialized payload of a buffered response.
	Body []byte

	// Stream holds the byte stream of a streaming response. The consumer owns
	// it and must drain or close it.
	Stream io.ReadCloser
}

// NewBufferedResponse creates a Response with a fully materialized body.
func NewBufferedResponse(statusCode int, header []HeaderPair, body []byte) Response {
	return Response{
		Kind:       ResponseBuffered,
		StatusCode: statusCode,
		Header:     header,
		Body:       body,
	}
}

// NewStreamingResponse creates a Response whose body is produced incrementally
// through the given stream.
func NewStreamingResponse(statusCode int, header []HeaderPair, stream io.ReadCloser) Response {
	return Response{
		Kind:       ResponseStreaming,
		StatusCode: statusCode,
		Header:     header,
		Stream:     stream,
	}
}

// WriteResponse writes resp to w. This is the single point where a Response is
// turned into wire bytes, so the match over Kind must stay exhaustive.
// Streaming bodies are flushed chunk by chunk so clients observe events as the
// engine produces them.
func WriteResponse(w http.ResponseWriter, resp Response) error {
	for _, p := range resp.Header {
		// Repeated keys must stay repeated entries on the wire, so Add, never Set.
		w.Header().Add(p.Key, p.Value)
	}

	switch resp.Kind {
	case ResponseBuffered:
		w.WriteHeader(resp.StatusCode)
		if len(resp.Body) == 0 {
			return nil
		}
		if _, err := w.Write(resp.Body); err != nil {
			return fmt.Errorf("failed to write response body: %w", err)
		}
		return nil
	case ResponseStreaming:
		w.WriteHeader(resp.StatusCode)
		defer resp.Stream.Close()

		flusher, _ := w.(http.Flusher)
		buf := make([]byte, 4096)
		for {
			n, err := resp.Stream.Read(buf)
			if n > 0 {
				if _, wErr := w.Write(buf[:n]); wErr != nil {
					return fmt.Errorf("failed to write response stream: %w", wErr)
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read response stream: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown response kind: %d", resp.Kind)
	}
}
