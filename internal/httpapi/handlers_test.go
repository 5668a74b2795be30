package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DoyleJ11/pugbot/internal/catalog"
	"github.com/DoyleJ11/pugbot/internal/channels"
	"github.com/DoyleJ11/pugbot/internal/engine"
	"github.com/DoyleJ11/pugbot/internal/feed"
	"github.com/DoyleJ11/pugbot/internal/hub"
	"github.com/DoyleJ11/pugbot/internal/types"
	pub "github.com/DoyleJ11/pugbot/pkg/types"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVacater struct{ addrs []string }

func (v *fakeVacater) Vacate(_ context.Context, address string) (string, error) {
	v.addrs = append(v.addrs, address)
	return "kicked 3 players", nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeVacater) {
	t.Helper()
	cat, err := catalog.Parse([]byte(`
servers: ["10.0.0.1:27015"]
modes:
  - name: ultiduo
    capacity: 4
    maps: [m1, m2, m3]
  - name: solo
    capacity: 1
    maps: [m1]
`))
	require.NoError(t, err)

	store := channels.NewMemoryStore()
	require.NoError(t, store.SetMode(context.Background(), "ch1", "ultiduo"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f := feed.New(ctx, nil)
	h := hub.NewHub(ctx, hub.Config{
		Catalog:  cat,
		Channels: store,
		Notifier: f,
		Rules:    engine.Rules{ReadyDefault: 10 * time.Minute, ReadyCheckTimeout: time.Minute, MapVoteTimeout: time.Minute},
	})

	v := &fakeVacater{}
	api := &API{Hub: h, Catalog: cat, Channels: store, Vacater: v, Servers: cat.Servers}
	srv := httptest.NewServer(SetupRoutes(api, f))
	t.Cleanup(srv.Close)
	return srv, v
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAPI_JoinAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/channels/ch1/players", `{"player":"p1","minutes":5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decodeBody[pub.SessionView](t, resp)
	assert.Equal(t, "add_remove", view.State)
	require.Len(t, view.Players, 1)
	assert.True(t, view.Players[0].Ready)

	resp = do(t, http.MethodPost, srv.URL+"/channels/ch1/players/p1/vote", `{"map":"m2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/channels/ch1/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decodeBody[pub.SessionView](t, resp)
	assert.Equal(t, 1, view.Votes["m2"])

	resp = do(t, http.MethodGet, srv.URL+"/channels", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"ch1": "ultiduo"}, decodeBody[map[string]string](t, resp))

	resp = do(t, http.MethodGet, srv.URL+"/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]pub.SessionView](t, resp), 1)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"no session", http.MethodGet, "/channels/ch1/session", "", http.StatusNotFound},
		{"not configured", http.MethodPost, "/channels/ch9/players", `{"player":"p1"}`, http.StatusNotFound},
		{"bad json", http.MethodPost, "/channels/ch1/players", `{`, http.StatusBadRequest},
		{"missing player", http.MethodPost, "/channels/ch1/players", `{}`, http.StatusBadRequest},
		{"first join", http.MethodPost, "/channels/ch1/players", `{"player":"p1"}`, http.StatusOK},
		{"double join", http.MethodPost, "/channels/ch1/players", `{"player":"p1"}`, http.StatusConflict},
		{"unknown map", http.MethodPost, "/channels/ch1/players/p1/vote", `{"map":"nope"}`, http.StatusBadRequest},
		{"set mode while live", http.MethodPut, "/channels/ch1/mode", `{"mode":"solo"}`, http.StatusConflict},
		{"unknown mode", http.MethodPut, "/channels/ch2/mode", `{"mode":"bogus"}`, http.StatusBadRequest},
		{"records disabled", http.MethodGet, "/channels/ch1/records", "", http.StatusNotImplemented},
		{"kick", http.MethodDelete, "/channels/ch1/players/p1?by=admin", "", http.StatusOK},
		{"stop", http.MethodDelete, "/channels/ch1/session", "", http.StatusNoContent},
	}

	for _, tt := range tests {
		resp := do(t, tt.method, srv.URL+tt.path, tt.body)
		assert.Equal(t, tt.want, resp.StatusCode, tt.name)
	}
}

func TestAPI_Vacate(t *testing.T) {
	srv, v := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/servers/10.0.0.1:27015/vacate", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"10.0.0.1:27015"}, v.addrs)

	resp = do(t, http.MethodPost, srv.URL+"/servers/10.9.9.9:27015/vacate", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWS_CommandsAndSnapshots(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?channel=ch1&player=p1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// the subscription is registered before any command is read
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"join"}`)))

	var snapshot *types.ServerMessage
	for snapshot == nil {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg types.ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == string(feed.KindSnapshot) {
			snapshot = &msg
		}
	}
	require.NotNil(t, snapshot.Session)
	require.Len(t, snapshot.Session.Players, 1)
	assert.Equal(t, "p1", snapshot.Session.Players[0].ID)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"join"}`)))
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg types.ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == "Error" {
			assert.Contains(t, msg.Error, engine.ErrAlreadyQueued.Error())
			break
		}
	}
}
