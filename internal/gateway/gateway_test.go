// ABOUTME: Tests for the Gateway lifecycle, REST table API and object storage endpoints
// ABOUTME: Runs the real router under httptest with in-memory and on-disk backends

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Danieldaguy/Chatroom-Testing/internal/blob"
	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
	"github.com/Danieldaguy/Chatroom-Testing/internal/config"
	"github.com/Danieldaguy/Chatroom-Testing/internal/store"
)

// testConfig creates a minimal config for testing.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Server: config.ServerConfig{
			HTTPAddr: "127.0.0.1:0",
			BaseURL:  "http://chat.test",
		},
		Database: config.DatabaseConfig{
			Driver: store.DriverModernc,
			Path:   ":memory:",
		},
		Storage: config.StorageConfig{
			Backend: "disk",
			Path:    t.TempDir(),
		},
		Realtime: config.RealtimeConfig{
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Metrics: config.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testGateway struct {
	gw     *Gateway
	store  *store.MockStore
	server *httptest.Server
}

// newTestGateway starts the gateway router on an httptest server backed by
// a MockStore and a DiskStore in a temp dir.
func newTestGateway(t *testing.T, mutate ...func(*config.Config)) *testGateway {
	t.Helper()

	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}

	blobs, err := blob.NewDiskStore(cfg.Storage.Path, testLogger())
	require.NoError(t, err)

	ms := store.NewMockStore()
	gw := NewWithDeps(cfg, Deps{Store: ms, Blobs: blobs}, testLogger())
	srv := httptest.NewServer(gw.Handler())

	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})

	return &testGateway{gw: gw, store: ms, server: srv}
}

func (tg *testGateway) post(t *testing.T, table string, row any) *http.Response {
	t.Helper()
	body, err := json.Marshal(row)
	require.NoError(t, err)
	resp, err := http.Post(tg.server.URL+"/rest/v1/"+table, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (tg *testGateway) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(tg.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeRows(t *testing.T, c chat.Collection, resp *http.Response) []chat.Message {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	rows, err := chat.DecodeRows(c, data)
	require.NoError(t, err)
	return rows
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(t.Context(), cfg, testLogger())
	require.NoError(t, err)

	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.blobs)
	assert.NotNil(t, gw.conversation)

	require.NoError(t, gw.Shutdown(context.Background()))
	// second call is a no-op
	require.NoError(t, gw.Shutdown(context.Background()))
}

func TestGatewayNew_DBPathOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = "/nonexistent/dir/that/cannot/exist/db.sqlite"
	t.Setenv("CHATROOM_DB_PATH", ":memory:")

	gw, err := New(t.Context(), cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, gw.Shutdown(context.Background()))
}

func TestGatewayRun_ShutsDownOnCancel(t *testing.T) {
	cfg := testConfig(t)
	gw := NewWithDeps(cfg, Deps{Store: store.NewMockStore(), Blobs: nil}, testLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInsertAndSelect(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.post(t, "messages", chat.MessageRecord{Username: "alice", Message: "hello", ClientID: "c1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeRows(t, chat.CollectionMessages, resp)
	require.Len(t, created, 1)
	assert.NotZero(t, created[0].ID)
	assert.False(t, created[0].CreatedAt.IsZero())
	assert.Equal(t, "c1", created[0].ClientID)

	tg.post(t, "messages", chat.MessageRecord{Username: "bob", Message: "hi"})

	resp = tg.get(t, "/rest/v1/messages?order=created_at.asc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0-1/2", resp.Header.Get("Content-Range"))

	rows := decodeRows(t, chat.CollectionMessages, resp)
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].Author)
	assert.Equal(t, "bob", rows[1].Author)
}

func TestInsert_DuplicateClientID(t *testing.T) {
	tg := newTestGateway(t)

	first := tg.post(t, "messages", chat.MessageRecord{Username: "alice", Message: "hello", ClientID: "same"})
	require.Equal(t, http.StatusCreated, first.StatusCode)
	a := decodeRows(t, chat.CollectionMessages, first)

	second := tg.post(t, "messages", chat.MessageRecord{Username: "alice", Message: "hello", ClientID: "same"})
	require.Equal(t, http.StatusOK, second.StatusCode)
	b := decodeRows(t, chat.CollectionMessages, second)

	assert.Equal(t, a[0].ID, b[0].ID)

	page, err := tg.store.ListMessages(t.Context(), store.Query{Collection: chat.CollectionMessages})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestInsert_Validation(t *testing.T) {
	tg := newTestGateway(t)

	tests := []struct {
		name  string
		table string
		row   any
		want  int
	}{
		{"empty body", "messages", chat.MessageRecord{Username: "alice"}, http.StatusBadRequest},
		{"missing username", "messages", chat.MessageRecord{Message: "hi"}, http.StatusBadRequest},
		{"dm without recipient", "direct_messages", chat.DirectMessageRecord{Sender: "a", Message: "hi"}, http.StatusBadRequest},
		{"unknown table", "users", map[string]string{"name": "x"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tg.post(t, tt.table, tt.row)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestInsert_MalformedJSON(t *testing.T) {
	tg := newTestGateway(t)

	resp, err := http.Post(tg.server.URL+"/rest/v1/messages", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInsert_RateLimited(t *testing.T) {
	tg := newTestGateway(t, func(cfg *config.Config) {
		cfg.API.InsertRate = 0.001
		cfg.API.InsertBurst = 2
	})

	for i := range 2 {
		resp := tg.post(t, "messages", chat.MessageRecord{Username: "alice", Message: "m"})
		require.Equal(t, http.StatusCreated, resp.StatusCode, "insert %d", i)
	}

	resp := tg.post(t, "messages", chat.MessageRecord{Username: "alice", Message: "m"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestSelect_Paging(t *testing.T) {
	tg := newTestGateway(t)

	for i := range 5 {
		tg.post(t, "messages", chat.MessageRecord{Username: "alice", Message: string(rune('a' + i))})
	}

	resp := tg.get(t, "/rest/v1/messages?limit=2&offset=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2-3/5", resp.Header.Get("Content-Range"))
	rows := decodeRows(t, chat.CollectionMessages, resp)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0].Body)
	assert.Equal(t, "d", rows[1].Body)

	resp = tg.get(t, "/rest/v1/messages?offset=10")
	assert.Equal(t, "*/5", resp.Header.Get("Content-Range"))
	assert.Empty(t, decodeRows(t, chat.CollectionMessages, resp))
}

func TestSelect_BadParams(t *testing.T) {
	tg := newTestGateway(t)

	for _, path := range []string{
		"/rest/v1/messages?order=created_at.desc",
		"/rest/v1/messages?limit=-1",
		"/rest/v1/messages?offset=abc",
	} {
		resp := tg.get(t, path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}

	resp := tg.get(t, "/rest/v1/users")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSelect_StoreFailure(t *testing.T) {
	tg := newTestGateway(t)
	tg.store.ListErr = assert.AnError

	resp := tg.get(t, "/rest/v1/messages")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestSelect_DirectMessagesByParticipant(t *testing.T) {
	tg := newTestGateway(t)

	tg.post(t, "direct_messages", chat.DirectMessageRecord{Sender: "alice", Recipient: "bob", Message: "1"})
	tg.post(t, "direct_messages", chat.DirectMessageRecord{Sender: "carol", Recipient: "dave", Message: "2"})
	tg.post(t, "direct_messages", chat.DirectMessageRecord{Sender: "bob", Recipient: "alice", Message: "3"})

	resp := tg.get(t, "/rest/v1/direct_messages?participant=alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0-1/2", resp.Header.Get("Content-Range"))

	rows := decodeRows(t, chat.CollectionDirectMessages, resp)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0].Body)
	assert.Equal(t, "3", rows[1].Body)
}

func TestUploadAndFetchObject(t *testing.T) {
	tg := newTestGateway(t)

	png := []byte("\x89PNG\r\n\x1a\nnot really a png")
	req, err := http.NewRequest(http.MethodPost,
		tg.server.URL+"/storage/v1/object/avatars/profile_pictures/123.png", bytes.NewReader(png))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "image/png")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var up UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	assert.Equal(t, "avatars/profile_pictures/123.png", up.Key)
	assert.Equal(t, "http://chat.test/storage/v1/object/public/avatars/profile_pictures/123.png", up.URL)

	got := tg.get(t, "/storage/v1/object/public/avatars/profile_pictures/123.png")
	require.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "image/png", got.Header.Get("Content-Type"))
	body, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, png, body)
}

func TestUpload_Rejections(t *testing.T) {
	tg := newTestGateway(t)

	resp, err := http.Post(tg.server.URL+"/storage/v1/object/avatars/a.png", "image/png", bytes.NewReader(nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	big := bytes.Repeat([]byte("x"), blob.MaxObjectSize+1)
	req := httptest.NewRequest(http.MethodPost, "/storage/v1/object/avatars/big.png", bytes.NewReader(big))
	rec := httptest.NewRecorder()
	tg.gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	missing := tg.get(t, "/storage/v1/object/public/avatars/nope.png")
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	tg := newTestGateway(t)

	tg.post(t, "messages", chat.MessageRecord{Username: "alice", Message: "hello"})

	resp := tg.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `chatroom_inserts_total{table="messages"} 1`)
	assert.Contains(t, string(body), `chatroom_http_requests_total{code="201",method="POST",route="/rest/v1/{table}"} 1`)
}

func TestCORSExposesContentRange(t *testing.T) {
	tg := newTestGateway(t)

	req, err := http.NewRequest(http.MethodGet, tg.server.URL+"/rest/v1/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "Content-Range")
}

func TestContentRange(t *testing.T) {
	assert.Equal(t, "*/0", contentRange(0, 0, 0))
	assert.Equal(t, "0-9/42", contentRange(0, 10, 42))
	assert.Equal(t, "40-41/42", contentRange(40, 2, 42))
}
