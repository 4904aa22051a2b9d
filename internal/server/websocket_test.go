package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedeck/coursedeck"
	"github.com/coursedeck/coursedeck/internal/loader"
	"github.com/coursedeck/coursedeck/internal/store"
)

func hubFixture(t *testing.T) (*SyncHub, *store.Store) {
	t.Helper()
	st := store.New(loader.New(0, loader.DefaultRetryConfig()), nil)
	st.Add(&coursedeck.Courseware{
		ID:    "a",
		Title: "a",
		Pages: []coursedeck.Page{
			{ID: "p0", SectionSelector: "#s0", Index: 0},
			{ID: "p1", SectionSelector: "#s1", Index: 1},
		},
	})
	return NewSyncHub(st), st
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) syncMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg syncMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSyncHubInitialPositionAndGoto(t *testing.T) {
	hub, _ := hubFixture(t)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := dial(t, srv.URL)
	b := dial(t, srv.URL)

	// Both clients get the current position on connect.
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMsg(t, conn)
		assert.Equal(t, "position", msg.Type)
		assert.Equal(t, 0, msg.CoursewareIndex)
		assert.Equal(t, 0, msg.PageIndex)
	}

	// A goto moves everyone.
	require.NoError(t, a.WriteJSON(syncMessage{Type: "goto", CoursewareIndex: 0, PageIndex: 1}))
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMsg(t, conn)
		assert.Equal(t, 1, msg.PageIndex)
	}

	// A redundant goto is silent.
	require.NoError(t, a.WriteJSON(syncMessage{Type: "goto", CoursewareIndex: 0, PageIndex: 1}))
	b.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var msg syncMessage
	assert.Error(t, b.ReadJSON(&msg), "no broadcast expected for an unchanged position")
}

func TestSyncHubClampsAndIgnoresUnknownTargets(t *testing.T) {
	hub, st := hubFixture(t)

	// Out-of-range page clamps to the last page.
	hub.SetPosition(0, 99)
	cwIdx, page := hub.Position()
	assert.Equal(t, 0, cwIdx)
	assert.Equal(t, 1, page)

	// Unknown courseware index is a no-op.
	hub.SetPosition(7, 0)
	_, page = hub.Position()
	assert.Equal(t, 1, page)

	_, current := st.Current()
	assert.Equal(t, 0, current)
}
