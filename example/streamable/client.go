package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	streamhttp "github.com/MegaGrindStone/go-streamhttp"
	"github.com/tmaxmax/go-sse"
)

// client drives a scripted exchange against the example server: establish a
// session (unless running stateless), list the tools, call echo, then
// terminate the session.
type client struct {
	baseURL   string
	stateless bool
	sessionID string
	httpCli   *http.Client
}

func newClient(baseURL string, stateless bool) *client {
	return &client{
		baseURL:   baseURL,
		stateless: stateless,
		httpCli:   http.DefaultClient,
	}
}

func (c *client) run() error {
	if !c.stateless {
		if err := c.initialize(); err != nil {
			return fmt.Errorf("failed to initialize session: %w", err)
		}
		fmt.Printf("Session established: %s\n", c.sessionID)
	}

	msg, err := c.call([]byte(`{"jsonrpc":"2.0","id":"1","method":"tools/list"}`))
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	var listResult streamhttp.ListToolsResult
	if err := json.Unmarshal(msg.Result, &listResult); err != nil {
		return fmt.Errorf("failed to unmarshal tools: %w", err)
	}
	for _, tool := range listResult.Tools {
		fmt.Printf("Tool: %s - %s\n", tool.Name, tool.Description)
	}

	msg, err = c.call([]byte(`{"jsonrpc":"2.0","id":"2","method":"tools/call",` +
		`"params":{"name":"echo","arguments":{"message":"hello from the example client"}}}`))
	if err != nil {
		return fmt.Errorf("failed to call tool: %w", err)
	}
	var callResult streamhttp.CallToolResult
	if err := json.Unmarshal(msg.Result, &callResult); err != nil {
		return fmt.Errorf("failed to unmarshal call result: %w", err)
	}
	for _, content := range callResult.Content {
		fmt.Printf("Echo: %s\n", content.Text)
	}

	if !c.stateless {
		if err := c.terminate(); err != nil {
			return fmt.Errorf("failed to terminate session: %w", err)
		}
		fmt.Println("Session terminated")
	}
	return nil
}

func (c *client) initialize() error {
	body := []byte(`{"jsonrpc":"2.0","id":"0","method":"initialize",` +
		`"params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"streamable-client","version":"1.0"}}}`)

	resp, err := c.post(body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	c.sessionID = resp.Header.Get(streamhttp.SessionIDHeader)
	if c.sessionID == "" {
		return fmt.Errorf("server did not assign a session id")
	}

	msg, err := readStreamedMessage(resp)
	if err != nil {
		return err
	}
	if msg.Error != nil {
		return fmt.Errorf("server rejected initialization: %s", msg.Error.Message)
	}
	return nil
}

func (c *client) call(body []byte) (streamhttp.JSONRPCMessage, error) {
	resp, err := c.post(body)
	if err != nil {
		return streamhttp.JSONRPCMessage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return streamhttp.JSONRPCMessage{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	msg, err := readStreamedMessage(resp)
	if err != nil {
		return streamhttp.JSONRPCMessage{}, err
	}
	if msg.Error != nil {
		return streamhttp.JSONRPCMessage{}, fmt.Errorf("server returned error %d: %s", msg.Error.Code, msg.Error.Message)
	}
	return msg, nil
}

func (c *client) terminate() error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(streamhttp.SessionIDHeader, c.sessionID)

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

func (c *client) post(body []byte) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sessionID != "" {
		req.Header.Set(streamhttp.SessionIDHeader, c.sessionID)
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func readStreamedMessage(resp *http.Response) (streamhttp.JSONRPCMessage, error) {
	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			return streamhttp.JSONRPCMessage{}, fmt.Errorf("failed to read event stream: %w", err)
		}
		var msg streamhttp.JSONRPCMessage
		if uErr := json.Unmarshal([]byte(ev.Data), &msg); uErr != nil {
			return streamhttp.JSONRPCMessage{}, fmt.Errorf("failed to unmarshal event data: %w", uErr)
		}
		return msg, nil
	}
	return streamhttp.JSONRPCMessage{}, fmt.Errorf("event stream ended without a message")
}
