package event

import (
	"encoding/json"

	"Parley/internal/model"
)

// Server to view
const (
	EventRoster       = "roster"
	EventConversation = "conversation"
	EventError        = "error"
	EventAck          = "ack"
)

// View to server
const (
	EventOpenChat   = "open_chat"
	EventSend       = "send"
	EventEdit       = "edit"
	EventReact      = "react"
	EventStar       = "star"
	EventTyping     = "typing"
	EventVisibility = "visibility"
	EventPin        = "pin"
	EventArchive    = "archive"
	EventClear      = "clear"
	EventBlock      = "block"
	EventUnblock    = "unblock"
)

type WsEvent struct {
	Event     string          `json:"event"`
	ChatId    string          `json:"chatId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestId string          `json:"requestId,omitempty"`
}

// OpenChat selects the active conversation.
type OpenChat struct {
	ChatId string `json:"chatId"`
	PeerId string `json:"peerId"`
}

type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"` // base64 in JSON
}

type Send struct {
	Text       string          `json:"text"`
	ReplyTo    *model.ReplyRef `json:"replyTo"` // nullable
	Attachment *Attachment     `json:"attachment"`
}

type Edit struct {
	Ref  model.MessageRef `json:"ref"`
	Text string           `json:"text"`
}

type React struct {
	Ref      model.MessageRef `json:"ref"`
	Reaction model.Reaction   `json:"reaction"`
}

type Star struct {
	Ref model.MessageRef `json:"ref"`
}

type Visibility struct {
	State string `json:"state"` // visible | hidden | unload
}

type Error struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

type Ack struct {
	Event  string      `json:"event"`
	Result interface{} `json:"result,omitempty"`
}

// New builds an outbound event with payload v.
func New(name, chatId, requestId string, v interface{}) (WsEvent, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return WsEvent{}, err
	}
	return WsEvent{Event: name, ChatId: chatId, Payload: raw, RequestId: requestId}, nil
}
