package wsbridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"corefs.dev/corefs/vfs/watch"
)

func TestServeForwardsEventsAsJSON(t *testing.T) {
	bus := watch.NewBus()
	sub := bus.Watch("/foo", false)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		Serve(conn, sub, nil)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	bus.Emit("write", "/foo")

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var msg message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "write", msg.EventType)
	require.Equal(t, "/foo", msg.Filename)
}

func TestServeClosesSubscriptionWhenConnFails(t *testing.T) {
	bus := watch.NewBus()
	sub := bus.Watch("/foo", false)

	upgrader := websocket.Upgrader{}
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close() // closed immediately so the first write fails
		Serve(conn, sub, nil)
		close(done)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	bus.Emit("write", "/foo")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the connection failed")
	}
	_, ok := sub.Next()
	require.False(t, ok, "subscription should be closed once Serve exits")
}
