package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/drawsync/internal/hub"
	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/internal/ws"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, zap.NewNop())
	srv := httptest.NewServer(SetupRoutes(h, zap.NewNop(), ws.ServerOptions{}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode()
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, code)
}

func TestHealthz(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndInspectLobby(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Post(srv.URL+"/lobbies", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Len(t, created.Code, 6)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := ws.Dial(ctx, wsURL, ws.DialOptions{Code: created.Code, Identity: "alice", Name: "Alice"})
	require.NoError(t, err)
	defer c.Close()

	resp2, err := http.Get(srv.URL + "/lobbies/" + created.Code)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var view lobbyView
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&view))
	assert.Equal(t, created.Code, view.Code)
	assert.Equal(t, []transport.Participant{{Identity: "alice", Name: "Alice", Kind: transport.KindStandard}}, view.Members)
}

func TestGetUnknownLobby(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/lobbies/NOPE00")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketRequiresCode(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
