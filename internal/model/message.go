package model

import (
	"fmt"
	"time"
)

// MediaKind is the media host resource type of an attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaRaw   MediaKind = "raw"
)

// Reaction is the single reaction tag a message may carry.
type Reaction string

const (
	ReactionHeart Reaction = "heart"
	ReactionLike  Reaction = "like"
	ReactionSmile Reaction = "smile"
	ReactionWink  Reaction = "wink"
	ReactionSad   Reaction = "sad"
)

var reactionEmoji = map[Reaction]string{
	ReactionHeart: "❤️",
	ReactionLike:  "👍",
	ReactionSmile: "😊",
	ReactionWink:  "😉",
	ReactionSad:   "😢",
}

// ParseReaction validates a reaction tag.
func ParseReaction(s string) (Reaction, error) {
	r := Reaction(s)
	if _, ok := reactionEmoji[r]; !ok {
		return "", fmt.Errorf("unknown reaction %q", s)
	}
	return r, nil
}

// Emoji returns the glyph rendered for the tag, or "" for no reaction.
func (r Reaction) Emoji() string {
	return reactionEmoji[r]
}

// Message is one element of chats/{chatId}.messages
type Message struct {
	ID        string     `json:"id,omitempty" bson:"id,omitempty"`
	SenderID  string     `json:"senderId" bson:"sender_id"`
	CreatedAt time.Time  `json:"createdAt" bson:"created_at"`
	Text      string     `json:"text,omitempty" bson:"text,omitempty"`
	Media     *Media     `json:"media,omitempty" bson:"media,omitempty"`
	ReplyTo   *ReplyRef  `json:"replyTo,omitempty" bson:"reply_to,omitempty"`
	Reaction  Reaction   `json:"reaction,omitempty" bson:"reaction,omitempty"`
	Star      *Star      `json:"star,omitempty" bson:"star,omitempty"`
	Edited    bool       `json:"edited,omitempty" bson:"edited,omitempty"`
	EditedAt  *time.Time `json:"editedAt,omitempty" bson:"edited_at,omitempty"`
}

// Media is the single attachment of a message.
type Media struct {
	Kind MediaKind `json:"kind" bson:"kind"`
	URL  string    `json:"url" bson:"url"`
	Name string    `json:"name,omitempty" bson:"name,omitempty"`
}

// ReplyRef quotes the message being replied to.
type ReplyRef struct {
	Text     string `json:"text,omitempty" bson:"text,omitempty"`
	SenderID string `json:"senderId" bson:"sender_id"`
}

// Star marks a message as starred by SenderID.
type Star struct {
	IsStarred bool      `json:"isStarred" bson:"is_starred"`
	StarredAt time.Time `json:"starredAt" bson:"starred_at"`
	SenderID  string    `json:"senderId" bson:"sender_id"`
}

// MessageRef addresses a message for an in-place mutation. ID wins when the
// message carries one; Index is the position captured when the user picked
// the message.
type MessageRef struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
}
