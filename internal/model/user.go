package model

import (
	"time"
)

const DefaultStatus = "Hey there! I am using Chat App"

// Field names on users/{uid} written by partial updates.
const (
	UserFieldUsername = "username"
	UserFieldAvatar   = "avatar"
	UserFieldStatus   = "status"
	UserFieldOnline   = "online"
	UserFieldLastSeen = "last_seen"
	UserFieldBlocked  = "blocked"
	UserFieldPinned   = "pinned"
)

// User represents a users/{uid} profile document
type User struct {
	ID        string          `json:"id" bson:"id"`
	Username  string          `json:"username" bson:"username"`
	Email     string          `json:"email" bson:"email"`
	Avatar    string          `json:"avatar" bson:"avatar"`
	Status    string          `json:"status" bson:"status"`
	Online    bool            `json:"online" bson:"online"`
	LastSeen  *time.Time      `json:"lastSeen,omitempty" bson:"last_seen,omitempty"`
	Blocked   []BlockRelation `json:"blocked" bson:"blocked"`
	Pinned    []string        `json:"pinned" bson:"pinned"`
	CreatedAt time.Time       `json:"createdAt" bson:"created_at"`
}

// BlockRelation is recorded on both users' profiles when SenderID blocks
// ReceiverID inside ChatID.
type BlockRelation struct {
	ChatID     string `json:"chatId" bson:"chat_id"`
	SenderID   string `json:"senderId" bson:"sender_id"`
	ReceiverID string `json:"receiverId" bson:"receiver_id"`
}

// IsPinned reports whether chatID is in the user's pinned list.
func (u *User) IsPinned(chatID string) bool {
	if u == nil {
		return false
	}
	for _, id := range u.Pinned {
		if id == chatID {
			return true
		}
	}
	return false
}

// BlockBetween returns the relation recorded for chatID between the user and
// peerID in either direction.
func (u *User) BlockBetween(chatID, peerID string) (BlockRelation, bool) {
	if u == nil {
		return BlockRelation{}, false
	}
	for _, rel := range u.Blocked {
		if rel.ChatID != chatID {
			continue
		}
		if rel.ReceiverID == peerID || rel.SenderID == peerID {
			return rel, true
		}
	}
	return BlockRelation{}, false
}
