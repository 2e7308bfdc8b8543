package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EelcoLos/iframe-dnd-demo-sub000/relay"
	"github.com/EelcoLos/iframe-dnd-demo-sub000/transport"
)

const testOrigin = "http://localhost:8081"

var quiet = relay.WithLogger(log.New(io.Discard, "", 0))

func newTestServer(t *testing.T) (*relay.Manager, *httptest.Server) {
	t.Helper()
	mgr, err := relay.New("coordinator", relay.WithOrigin(testOrigin), quiet)
	require.NoError(t, err)
	require.NoError(t, mgr.InitializeAsCoordinator())
	t.Cleanup(func() { mgr.Close() })

	ts := httptest.NewServer(newCoordinator(mgr).routes())
	t.Cleanup(ts.Close)
	return mgr, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// joinChild connects a child window manager to the coordinator.
func joinChild(t *testing.T, ts *httptest.Server, id relay.WindowID) *relay.Manager {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, wsURL(ts), testOrigin, 2)
	require.NoError(t, err)
	peer := transport.NewWSPeer(conn)

	child, err := relay.New(id, relay.WithOrigin(testOrigin), quiet)
	require.NoError(t, err)
	go transport.ReadLoop(conn, testOrigin, child)
	require.NoError(t, child.InitializeAsChild(peer))

	t.Cleanup(func() {
		child.Close()
		peer.Close()
	})
	return child
}

func knownBy(mgr *relay.Manager, ids ...relay.WindowID) func() bool {
	return func() bool {
		known := mgr.GetKnownWindows()
		if len(known) != len(ids) {
			return false
		}
		for i := range ids {
			if known[i] != ids[i] {
				return false
			}
		}
		return true
	}
}

func TestChildrenTalkThroughCoordinator(t *testing.T) {
	mgr, ts := newTestServer(t)

	a := joinChild(t, ts, "A")
	require.Eventually(t, knownBy(mgr, "A"), 2*time.Second, 10*time.Millisecond)
	b := joinChild(t, ts, "B")
	require.Eventually(t, knownBy(mgr, "A", "B"), 2*time.Second, 10*time.Millisecond)

	got := make(chan relay.DragPayload, 1)
	b.On(relay.TypeDragStart, func(data json.RawMessage, source relay.WindowID) error {
		assert.Equal(t, relay.WindowID("A"), source)
		p, err := relay.Decode[relay.DragPayload](data)
		if err != nil {
			return err
		}
		got <- p
		return nil
	})

	require.NoError(t, a.Broadcast(relay.TypeDragStart, relay.DragPayload{ItemID: "1", Text: "Item 1"}))

	select {
	case p := <-got:
		assert.Equal(t, "1", p.ItemID)
	case <-time.After(2 * time.Second):
		t.Fatal("B never received dragStart")
	}

	// A learned about B when the coordinator relayed B's announcement.
	assert.Eventually(t, knownBy(a, "B"), 2*time.Second, 10*time.Millisecond)
}

func TestWindowsEndpoint(t *testing.T) {
	mgr, ts := newTestServer(t)
	joinChild(t, ts, "list-a")
	require.Eventually(t, knownBy(mgr, "list-a"), 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(ts.URL + "/windows")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body windowsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, relay.WindowID("coordinator"), body.ID)
	assert.Equal(t, relay.DefaultChannel, body.Channel)
	assert.False(t, body.Broadcast)
	assert.Equal(t, []relay.WindowID{"list-a"}, body.Windows)
}

func TestDisconnectUnregistersWindow(t *testing.T) {
	mgr, ts := newTestServer(t)

	conn, err := transport.Dial(context.Background(), wsURL(ts), testOrigin, 1)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(relay.Message{Type: relay.TypeWindowJoined, Source: "gone", Relay: true}))
	require.Eventually(t, knownBy(mgr, "gone"), 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, knownBy(mgr), 2*time.Second, 10*time.Millisecond)
}

func TestRejectsBadHandshake(t *testing.T) {
	for name, tc := range map[string]struct {
		origin string
		first  relay.Message
	}{
		"not a join":   {origin: testOrigin, first: relay.Message{Type: relay.TypeDragStart, Source: "A"}},
		"no source":    {origin: testOrigin, first: relay.Message{Type: relay.TypeWindowJoined}},
		"wrong origin": {origin: "http://evil.example", first: relay.Message{Type: relay.TypeWindowJoined, Source: "A"}},
	} {
		t.Run(name, func(t *testing.T) {
			mgr, ts := newTestServer(t)

			conn, err := transport.Dial(context.Background(), wsURL(ts), tc.origin, 1)
			require.NoError(t, err)
			defer conn.Close()
			require.NoError(t, conn.WriteJSON(tc.first))

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err = conn.ReadMessage()
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
			assert.Empty(t, mgr.GetKnownWindows())
		})
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
