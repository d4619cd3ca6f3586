package webapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uteknoid/drived/pkg/transfer"
	"github.com/uteknoid/drived/pkg/wire"
)

func TestEventsConnectionStreamsTransferEvents(t *testing.T) {
	f := newControllerFixture(t)

	e := echo.New()
	controller := NewEventsController(f.uploads, f.downloads)
	e.GET("/api/events", controller.HandleEventsConnection)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	f.uploads.Start()

	_, _, err = f.uploads.Enqueue(transfer.Request{
		AccountName:    "alice@server",
		LocalPath:      makeUploadSource(t),
		RemotePath:     "/a.txt",
		ForceOverwrite: true,
	})
	require.NoError(t, err)

	// added, started and finished all arrive as transfer_event messages.
	kinds := map[transfer.EventKind]bool{}
	for i := 0; i < 3; i++ {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))

		_, data, err := ws.ReadMessage()
		require.NoError(t, err)

		var msg wire.TransferEventMsg
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "transfer_event", msg.MsgType)
		assert.Equal(t, "alice@server", msg.Event.AccountName)
		kinds[msg.Event.Kind] = true
	}

	assert.True(t, kinds[transfer.EventAdded])
	assert.True(t, kinds[transfer.EventStarted])
	assert.True(t, kinds[transfer.EventFinished])
}

func TestEventsConnectionProgressSubscription(t *testing.T) {
	f := newControllerFixture(t)

	e := echo.New()
	controller := NewEventsController(f.uploads, f.downloads)
	e.GET("/api/events", controller.HandleEventsConnection)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(wire.SubscribeProgressMsg{
		MsgType:     "subscribe_progress",
		AccountName: "alice@server",
		RemotePath:  "/a.txt",
	}))

	// Give the subscription a moment to land before the transfer runs.
	time.Sleep(50 * time.Millisecond)

	f.uploads.Start()

	_, _, err = f.uploads.Enqueue(transfer.Request{
		AccountName:    "alice@server",
		LocalPath:      makeUploadSource(t),
		RemotePath:     "/a.txt",
		ForceOverwrite: true,
	})
	require.NoError(t, err)

	sawProgress := false
	for i := 0; i < 10 && !sawProgress; i++ {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))

		_, data, err := ws.ReadMessage()
		require.NoError(t, err)

		var env wire.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.MsgType != "progress_update" {
			continue
		}

		var msg wire.ProgressUpdateMsg
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "/a.txt", msg.Update.RemotePath)
		sawProgress = true
	}

	assert.True(t, sawProgress, "expected a progress_update message")
}
