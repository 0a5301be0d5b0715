// Package testutil provides helpers for the citest suites: an in-process
// test server wired to a scripted provider, an HTTP client, and an SSE
// reader.
package testutil

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/joho/godotenv"

	"github.com/coderelay/coderelay/internal/bridge"
	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/executor"
	"github.com/coderelay/coderelay/internal/provider"
	"github.com/coderelay/coderelay/internal/server"
	"github.com/coderelay/coderelay/internal/store"
	"github.com/coderelay/coderelay/pkg/types"
)

// TestServer wraps a server instance for testing
type TestServer struct {
	Server   *server.Server
	BaseURL  string
	Store    *store.Store
	Bus      *event.Bus
	Bridge   *bridge.Bridge
	Provider *provider.Scripted
	port     int
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	authToken string
	responses []string
}

// WithAuthToken gates the API behind a bearer token
func WithAuthToken(token string) TestServerOption {
	return func(c *testServerConfig) {
		c.authToken = token
	}
}

// WithResponses seeds the scripted provider
func WithResponses(responses ...string) TestServerOption {
	return func(c *testServerConfig) {
		c.responses = append(c.responses, responses...)
	}
}

// StartTestServer creates and starts a test server backed by the scripted
// provider; no credentials are required.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Optional env for debugging knobs; the suite never needs real keys.
	_ = godotenv.Load("../../.env")

	port, err := findAvailablePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	scripted := provider.NewScripted(cfg.responses...)
	providerReg := provider.NewRegistry(&types.Config{Model: "scripted/scripted-1"})
	providerReg.Register(scripted)

	st := store.New()
	bus := event.NewBus()
	br := bridge.New(bus)

	exec := executor.New(st, providerReg, bus,
		executor.WithChangeTracking(false),
		executor.WithRetryInterval(time.Millisecond))

	serverConfig := server.DefaultConfig()
	serverConfig.Port = port
	serverConfig.Hostname = "127.0.0.1"
	serverConfig.AuthToken = cfg.authToken

	srv := server.New(serverConfig, st, exec, br, bus)

	go func() {
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		srv.Shutdown(context.Background())
		br.Close()
		bus.Close()
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:   srv,
		BaseURL:  baseURL,
		Store:    st,
		Bus:      bus,
		Bridge:   br,
		Provider: scripted,
		port:     port,
	}, nil
}

// Stop shuts down the test server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ts.Server != nil {
		if err := ts.Server.Shutdown(ctx); err != nil {
			return err
		}
	}
	ts.Bridge.Close()
	ts.Bus.Close()

	return nil
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// WaitForStatus polls the store until the session reaches the wanted status.
func (ts *TestServer) WaitForStatus(sessionID string, want types.SessionStatus, timeout time.Duration) (*types.Session, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap, err := ts.Store.Get(sessionID)
		if err != nil {
			return nil, err
		}
		if snap.Status == want {
			return snap, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, fmt.Errorf("session %s never reached status %q", sessionID, want)
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
