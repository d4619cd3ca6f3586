package wire

import "github.com/uteknoid/drived/pkg/transfer"

// Inbound messages a websocket client may send.

type SubscribeProgressMsg struct {
	MsgType     string `json:"msg_type"`
	AccountName string `json:"account_name"`
	RemotePath  string `json:"remote_path"`
}

type UnsubscribeProgressMsg struct {
	MsgType     string `json:"msg_type"`
	AccountName string `json:"account_name"`
	RemotePath  string `json:"remote_path"`
}

// Outbound messages pushed to websocket clients.

type TransferEventMsg struct {
	MsgType string         `json:"msg_type"`
	Event   transfer.Event `json:"event"`
}

func NewTransferEventMsg(e transfer.Event) TransferEventMsg {
	return TransferEventMsg{MsgType: "transfer_event", Event: e}
}

type ProgressUpdateMsg struct {
	MsgType string                  `json:"msg_type"`
	Update  transfer.ProgressUpdate `json:"update"`
}

func NewProgressUpdateMsg(u transfer.ProgressUpdate) ProgressUpdateMsg {
	return ProgressUpdateMsg{MsgType: "progress_update", Update: u}
}

type ErrorMsg struct {
	MsgType string `json:"msg_type"`
	Error   string `json:"error"`
}

func NewErrorMsg(err error) ErrorMsg {
	return ErrorMsg{MsgType: "error", Error: err.Error()}
}
