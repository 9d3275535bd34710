package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	streamhttp "github.com/MegaGrindStone/go-streamhttp"
	"github.com/spf13/pflag"
)

var (
	addr          = pflag.String("addr", ":8080", "address the server listens on")
	stateless     = pflag.Bool("stateless", false, "serve every request with a fresh engine, no sessions")
	staleTimeout  = pflag.Duration("stale-timeout", 30*time.Minute, "idle time before a session is reclaimed")
	sweepInterval = pflag.Duration("sweep-interval", time.Minute, "how often the idle sweep runs")
)

func main() {
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	factory := streamhttp.NewEngineFactory(
		streamhttp.Info{Name: "streamable-example", Version: "1.0"},
		streamhttp.WithToolServer(echoTools{}),
		streamhttp.WithEngineLogger(logger),
	)

	var stateful *streamhttp.StatefulManager
	var oneShot *streamhttp.StatelessManager
	if *stateless {
		oneShot = streamhttp.NewStatelessManager(factory, streamhttp.WithStatelessLogger(logger))
	} else {
		stateful = streamhttp.NewStatefulManager(factory,
			streamhttp.WithStaleTimeout(*staleTimeout),
			streamhttp.WithSweepInterval(*sweepInterval),
			streamhttp.WithStatefulLogger(logger),
		)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           streamhttp.NewHandler(stateful, oneShot),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		fmt.Printf("Server starting on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for the server to start
	time.Sleep(time.Second)

	cli := newClient(baseURL(), *stateless)
	if err := cli.run(); err != nil {
		fmt.Printf("Client error: %v\n", err)
	}

	fmt.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if stateful != nil {
		if err := stateful.Shutdown(ctx); err != nil {
			fmt.Printf("failed to shut down sessions: %v\n", err)
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Printf("Server forced to shutdown: %v\n", err)
		return
	}

	fmt.Println("Server exited gracefully")
}

func baseURL() string {
	a := *addr
	if a[0] == ':' {
		a = "localhost" + a
	}
	return fmt.Sprintf("http://%s", a)
}

// echoTools is a minimal ToolServer used by the example engine.
type echoTools struct{}

func (echoTools) ListTools(_ context.Context, _ streamhttp.ListToolsParams) (streamhttp.ListToolsResult, error) {
	return streamhttp.ListToolsResult{
		Tools: []streamhttp.Tool{
			{
				Name:        "echo",
				Description: "Echoes back the given message",
			},
		},
	}, nil
}

func (echoTools) CallTool(_ context.Context, params streamhttp.CallToolParams) (streamhttp.CallToolResult, error) {
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
