package webapi

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/uteknoid/drived/pkg/clog"
	"github.com/uteknoid/drived/pkg/transfer"
	"github.com/uteknoid/drived/pkg/wire"
)

// EventsController streams transfer lifecycle events over a websocket.
// Clients can additionally subscribe to byte level progress for specific
// transfers by sending subscribe_progress messages.
type EventsController struct {
	uploads   *transfer.Service
	downloads *transfer.Service
	upgrader  websocket.Upgrader
}

func NewEventsController(uploads, downloads *transfer.Service) *EventsController {
	return &EventsController{
		uploads:   uploads,
		downloads: downloads,
	}
}

func (c *EventsController) HandleEventsConnection(ctx echo.Context) error {
	ws, err := c.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return err
	}

	conn := &eventsConn{
		ws:        ws,
		uploads:   c.uploads,
		downloads: c.downloads,
		done:      make(chan struct{}),
		progress:  make(map[string][]*transfer.ProgressSubscription),
	}

	conn.run()
	return nil
}

type eventsConn struct {
	ws        *websocket.Conn
	uploads   *transfer.Service
	downloads *transfer.Service
	done      chan struct{}

	mu       sync.Mutex
	progress map[string][]*transfer.ProgressSubscription
}

func (c *eventsConn) run() {
	defer c.close()

	uploadEvents := c.uploads.Events(64)
	defer uploadEvents.Close()

	downloadEvents := c.downloads.Events(64)
	defer downloadEvents.Close()

	updates := make(chan transfer.ProgressUpdate, 256)

	// Reader: consumes subscription commands until the client goes away.
	go func() {
		defer close(c.done)
		for {
			msg, err := wire.ReadTypedMessage(c.ws)
			if err != nil {
				return
			}

			switch m := msg.(type) {
			case *wire.SubscribeProgressMsg:
				c.subscribeProgress(m.AccountName, m.RemotePath, updates)
			case *wire.UnsubscribeProgressMsg:
				c.unsubscribeProgress(m.AccountName, m.RemotePath)
			}
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case e := <-uploadEvents.C:
			if err := wire.WriteTypedMessage(c.ws, wire.NewTransferEventMsg(e)); err != nil {
				return
			}
		case e := <-downloadEvents.C:
			if err := wire.WriteTypedMessage(c.ws, wire.NewTransferEventMsg(e)); err != nil {
				return
			}
		case u := <-updates:
			if err := wire.WriteTypedMessage(c.ws, wire.NewProgressUpdateMsg(u)); err != nil {
				return
			}
		}
	}
}

func (c *eventsConn) subscribeProgress(accountName, remotePath string, updates chan transfer.ProgressUpdate) {
	key := transfer.BuildKey(accountName, remotePath)

	subs := []*transfer.ProgressSubscription{
		c.uploads.SubscribeProgress(accountName, remotePath),
		c.downloads.SubscribeProgress(accountName, remotePath),
	}

	c.mu.Lock()
	c.progress[key] = append(c.progress[key], subs...)
	c.mu.Unlock()

	for _, sub := range subs {
		go func(sub *transfer.ProgressSubscription) {
			for u := range sub.C {
				select {
				case updates <- u:
				case <-c.done:
					return
				}
			}
		}(sub)
	}
}

func (c *eventsConn) unsubscribeProgress(accountName, remotePath string) {
	key := transfer.BuildKey(accountName, remotePath)

	c.mu.Lock()
	subs := c.progress[key]
	delete(c.progress, key)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (c *eventsConn) close() {
	c.mu.Lock()
	for _, subs := range c.progress {
		for _, sub := range subs {
			sub.Close()
		}
	}
	c.progress = map[string][]*transfer.ProgressSubscription{}
	c.mu.Unlock()

	if err := c.ws.Close(); err != nil {
		clog.Global().Debugf("closing events websocket: %s", err)
	}
}
