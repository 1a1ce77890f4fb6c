package internal

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) dialWS(t *testing.T, c *http.Client) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if c != nil && c.Jar != nil {
		u, err := url.Parse(e.ts.URL)
		require.NoError(t, err)
		for _, cookie := range c.Jar.Cookies(u) {
			header.Add("Cookie", cookie.String())
		}
	}
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readOnlineCount(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, EventOnlineCount, env.Event)
	var data CountData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.Count
}

func TestPresenceOverWebsocket(t *testing.T) {
	e := newTestEnv(t)
	alice := e.browser(t)
	register(t, e, alice, "A", "a@x.com", "secret1")

	watcher := e.dialWS(t, nil)
	assert.Equal(t, 0, readOnlineCount(t, watcher))

	tab1 := e.dialWS(t, alice)
	assert.Equal(t, 1, readOnlineCount(t, watcher))
	assert.Equal(t, 1, readOnlineCount(t, tab1))

	tab2 := e.dialWS(t, alice)
	assert.Equal(t, 1, readOnlineCount(t, watcher), "same user twice counts once")
	assert.Equal(t, 1, readOnlineCount(t, tab2))

	require.NoError(t, tab1.Close())
	assert.Equal(t, 1, readOnlineCount(t, watcher), "one tab left keeps the user online")

	require.NoError(t, tab2.Close())
	assert.Equal(t, 0, readOnlineCount(t, watcher))
}

func TestPresenceTwoUsers(t *testing.T) {
	e := newTestEnv(t)
	alice := e.browser(t)
	bob := e.browser(t)
	register(t, e, alice, "A", "a@x.com", "secret1")
	register(t, e, bob, "B", "b@x.com", "secret2")

	a := e.dialWS(t, alice)
	assert.Equal(t, 1, readOnlineCount(t, a))
	b := e.dialWS(t, bob)
	assert.Equal(t, 2, readOnlineCount(t, a))
	assert.Equal(t, 2, readOnlineCount(t, b))
}

func TestPresenceGetCount(t *testing.T) {
	e := newTestEnv(t)
	alice := e.browser(t)
	register(t, e, alice, "A", "a@x.com", "secret1")

	conn := e.dialWS(t, alice)
	assert.Equal(t, 1, readOnlineCount(t, conn))

	require.NoError(t, conn.WriteJSON(map[string]string{"event": "get-count"}))
	assert.Equal(t, 1, readOnlineCount(t, conn))
}

func TestPresenceUserCapturedAtConnect(t *testing.T) {
	e := newTestEnv(t)
	alice := e.browser(t)
	register(t, e, alice, "A", "a@x.com", "secret1")

	watcher := e.dialWS(t, nil)
	readOnlineCount(t, watcher)
	tab := e.dialWS(t, alice)
	assert.Equal(t, 1, readOnlineCount(t, watcher))

	// logging out does not change who the open connection belongs to
	resp, err := alice.Get(e.ts.URL + "/api/logout")
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, tab.Close())
	assert.Equal(t, 0, readOnlineCount(t, watcher))
}

func TestWebsocketOriginCheckInProduction(t *testing.T) {
	e := newTestEnv(t, func(d *ServerDeps) { d.Production = true })
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {e.ts.URL}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, 0, readOnlineCount(t, conn))
}

func TestWebsocketAnyOriginInDevelopment(t *testing.T) {
	e := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://elsewhere.example"}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, 0, readOnlineCount(t, conn))
}

func TestSameOrigin(t *testing.T) {
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://app.example:3000", true},
		{"https://APP.example:3000", true},
		{"http://other.example:3000", false},
		{"http://app.example", false},
		{"://bad", false},
	}
	for _, tc := range cases {
		r, err := http.NewRequest(http.MethodGet, "http://app.example:3000/ws", nil)
		require.NoError(t, err)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.want, sameOrigin(r), tc.origin)
	}
}
