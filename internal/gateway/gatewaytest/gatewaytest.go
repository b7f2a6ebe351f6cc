// ABOUTME: Test helper that runs a full gateway on an httptest server
// ABOUTME: Backed by an in-memory message store and a temp-dir blob store

package gatewaytest

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Danieldaguy/Chatroom-Testing/internal/blob"
	"github.com/Danieldaguy/Chatroom-Testing/internal/config"
	"github.com/Danieldaguy/Chatroom-Testing/internal/gateway"
	"github.com/Danieldaguy/Chatroom-Testing/internal/store"
)

// Server is a running test gateway.
type Server struct {
	*httptest.Server
	Gateway *gateway.Gateway
	Store   *store.MockStore
}

// New starts a gateway and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Storage: config.StorageConfig{
			Backend: "disk",
			Path:    t.TempDir(),
		},
		Realtime: config.RealtimeConfig{
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	blobs, err := blob.NewDiskStore(cfg.Storage.Path, logger)
	if err != nil {
		t.Fatalf("creating blob store: %v", err)
	}

	ms := store.NewMockStore()

	// BaseURL must be known before the gateway is built, so the listener
	// is created first.
	srv := httptest.NewUnstartedServer(nil)
	cfg.Server.BaseURL = "http://" + srv.Listener.Addr().String()

	gw := gateway.NewWithDeps(cfg, gateway.Deps{Store: ms, Blobs: blobs}, logger)
	srv.Config.Handler = gw.Handler()
	srv.Start()

	s := &Server{Server: srv, Gateway: gw, Store: ms}
	t.Cleanup(s.Stop)
	return s
}

// Stop closes websocket connections and the HTTP server. Safe to call twice.
func (s *Server) Stop() {
	_ = s.Gateway.Shutdown(context.Background())
	s.Server.Close()
}

// DropConnections closes every websocket connection without stopping the
// server, forcing clients to reconnect.
func (s *Server) DropConnections() {
	s.Gateway.DropConnections()
}
