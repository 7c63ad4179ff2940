package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/edisco/internal/metrics"
)

func dialLive(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(serverURL, "http")+"/ws/live", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestLiveStreamFansOut(t *testing.T) {
	s, ts := newTestServer(t, &fakeWiki{}, Options{})
	a := dialLive(t, ts.URL)
	b := dialLive(t, ts.URL)
	require.Eventually(t, func() bool { return s.Hub().Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	event := `{"id":1,"type":"edit","server_name":"he.wikipedia.org","title":"חיפה"}`
	s.Hub().Broadcast([]byte(event))

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)
		assert.Equal(t, event, string(data))
	}
}

func TestClientLeavingUnregisters(t *testing.T) {
	s, ts := newTestServer(t, &fakeWiki{}, Options{})
	conn := dialLive(t, ts.URL)
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSlowClientIsDropped(t *testing.T) {
	m := metrics.New()
	h := NewHub(1, m, nil)
	slow := h.register()
	fast := h.register()

	h.Broadcast([]byte("1"))
	<-fast.send
	h.Broadcast([]byte("2"))

	assert.Equal(t, 1, h.Len())
	assert.Equal(t, "1", string(<-slow.send))
	_, open := <-slow.send
	assert.False(t, open, "dropped client's channel is closed")
	assert.Equal(t, "2", string(<-fast.send))
}

func TestHubCloseIsIdempotentPerClient(t *testing.T) {
	h := NewHub(4, nil, nil)
	c := h.register()
	h.Close()
	h.unregister(c)
	h.Close()

	assert.Zero(t, h.Len())
	_, open := <-c.send
	assert.False(t, open)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	s, ts := newTestServer(t, &fakeWiki{}, Options{})
	conn := dialLive(t, ts.URL)
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Hub().Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
