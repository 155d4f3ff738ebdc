package model

import (
	"time"
)

// Conversation represents a chats/{chatId} document
type Conversation struct {
	Messages  []Message `json:"messages" bson:"messages"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// Membership is one row of userChats/{uid}: the owner's summary of a single
// conversation with ReceiverID.
type Membership struct {
	ChatID            string    `json:"chatId" bson:"chat_id"`
	ReceiverID        string    `json:"receiverId" bson:"receiver_id"`
	LastMessage       string    `json:"lastMessage" bson:"last_message"`
	UpdatedAt         int64     `json:"updatedAt" bson:"updated_at"`
	IsSeen            bool      `json:"isSeen" bson:"is_seen"`
	UnreadMessages    int       `json:"unreadMessages" bson:"unread_messages"`
	Archived          bool      `json:"archived" bson:"archived"`
	OriginalUpdatedAt *int64    `json:"originalUpdatedAt,omitempty" bson:"original_updated_at,omitempty"`
	ReplyTo           *ReplyRef `json:"replyTo,omitempty" bson:"reply_to,omitempty"`
}

// UserChats represents the userChats/{uid} document
type UserChats struct {
	Chats []Membership `json:"chats" bson:"chats"`
}

// TypingStatus represents the typingStatus/{chatId} document
type TypingStatus struct {
	Typing map[string]bool `json:"typing" bson:"typing"`
}

// RosterEntry is a membership row joined with the peer's live profile.
// Peer is nil until the profile arrives or when the peer document is missing.
type RosterEntry struct {
	Membership
	Peer      *User  `json:"user"`
	Pinned    bool   `json:"pinned"`
	Unread    bool   `json:"unread"`
	TimeLabel string `json:"timeLabel"`
}

// MessageGroup is a contiguous run of messages sharing a day label.
type MessageGroup struct {
	Label    string        `json:"label"`
	Messages []MessageView `json:"messages"`
}

// MessageView is a message with its position in the sequence and display
// times: Time is the clock time, Age the relative one ("5 min ago").
type MessageView struct {
	Message
	Index   int    `json:"index"`
	Time    string `json:"time"`
	Age     string `json:"age"`
	CanEdit bool   `json:"canEdit"`
}

// ConversationView is the reconciled state of the active conversation.
type ConversationView struct {
	ChatID          string           `json:"chatId"`
	Messages        []Message        `json:"messages"`
	Groups          []MessageGroup   `json:"groups"`
	Senders         map[string]*User `json:"senders"`
	Peer            *User            `json:"peer"`
	PeerStatus      string           `json:"peerStatus"`
	PeerTyping      bool             `json:"peerTyping"`
	BlockedByViewer bool             `json:"blockedByViewer"`
	BlockedByPeer   bool             `json:"blockedByPeer"`
}
