package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope contains only the discriminator used to pick the concrete type.
type Envelope struct {
	MsgType string `json:"msg_type"`
}

var msgRegistry = map[string]func() any{
	"subscribe_progress":   func() any { return &SubscribeProgressMsg{} },
	"unsubscribe_progress": func() any { return &UnsubscribeProgressMsg{} },
}

// ReadTypedMessage reads a single websocket message, inspects msg_type and
// unmarshals into the matching struct. The result can be type-switched by
// the caller.
func ReadTypedMessage(conn *websocket.Conn) (interface{}, error) {
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("unsupported websocket message type: %d", mt)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.MsgType == "" {
		return nil, fmt.Errorf("missing msg_type")
	}

	f, ok := msgRegistry[env.MsgType]
	if !ok {
		return nil, fmt.Errorf("unknown msg_type: %q", env.MsgType)
	}

	v := f()
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.MsgType, err)
	}

	return v, nil
}

// WriteTypedMessage sends one outbound message as JSON with a temporary
// write deadline so a stuck client cannot block the sender forever.
func WriteTypedMessage(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return conn.WriteJSON(v)
}
