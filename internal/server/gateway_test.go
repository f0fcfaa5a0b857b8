package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/duelfield/duel-server-go/internal/cards"
	"github.com/duelfield/duel-server-go/internal/events"
	"github.com/duelfield/duel-server-go/internal/game"
	"github.com/duelfield/duel-server-go/internal/game/timing"
	"github.com/duelfield/duel-server-go/internal/store"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGateway(t *testing.T) *Gateway {
	t.Helper()
	catalog := cards.NewCatalog()
	catalog.Put(cards.Definition{ID: "dragon", Name: "Dragon", Type: cards.TypeMonster, ATK: 2500, DEF: 2000})

	engine := game.NewEngine(store.NewMemoryStore(), catalog, events.NewMemorySink(), nil)
	return NewGateway(engine, timing.Config{}, nil)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req Request) Response {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
	var resp Response
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestGatewayCreateAndQueryMatch(t *testing.T) {
	gw := testGateway(t)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()
	conn := dial(t, srv)

	resp := roundTrip(t, conn, Request{
		Type:    "create_match",
		MatchID: "m1",
		Players: []game.PlayerSetup{
			{PlayerID: "alice", Deck: []string{"dragon"}},
			{PlayerID: "bob", Deck: []string{"dragon"}},
		},
	})
	require.Equal(t, "ok", resp.Type, resp.Error)
	assert.Equal(t, "m1", resp.MatchID)

	resp = roundTrip(t, conn, Request{Type: "state", MatchID: "m1"})
	assert.Equal(t, "ok", resp.Type)
	assert.NotNil(t, resp.State)
}

func TestGatewayErrorsCarryCode(t *testing.T) {
	gw := testGateway(t)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()
	conn := dial(t, srv)

	resp := roundTrip(t, conn, Request{Type: "state", MatchID: "missing"})
	assert.Equal(t, "error", resp.Type)
	assert.Equal(t, string(game.CodeMatchNotFound), resp.Code)

	resp = roundTrip(t, conn, Request{Type: "create_match", MatchID: "m1"})
	assert.Equal(t, "error", resp.Type)

	resp = roundTrip(t, conn, Request{Type: "bogus"})
	assert.Equal(t, "error", resp.Type)
	assert.Contains(t, resp.Error, "unknown request type")
}

func TestGatewayBroadcastsMatchEvents(t *testing.T) {
	gw := testGateway(t)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()
	conn := dial(t, srv)

	resp := roundTrip(t, conn, Request{Type: "subscribe", MatchID: "m1"})
	require.Equal(t, "ok", resp.Type)

	// Wire the broadcast sink the way main does and produce an event.
	sink := gw.EventSink()
	sink.Append(events.New("m1", events.TypeChainLinkAdded, "alice", "c1", nil))
	sink.Append(events.New("other", events.TypeChainLinkAdded, "bob", "c2", nil))

	var broadcast Response
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&broadcast))
	assert.Equal(t, "event", broadcast.Type)
	require.NotNil(t, broadcast.Event)
	assert.Equal(t, "m1", broadcast.Event.MatchID)

	// The other match's event was filtered out; nothing else arrives.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var extra Response
	err := conn.ReadJSON(&extra)
	assert.Error(t, err)

}
