package models

import "time"

// Message is a persisted community message.
type Message struct {
	ID          string    `json:"id"`
	CommunityID int       `json:"community_id"`
	UserID      int       `json:"user_id"`
	Sender      string    `json:"sender"`
	SenderName  string    `json:"sender_name"`
	Body        string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// DirectMessage is a persisted one-to-one message between two users,
// addressed by email identity.
type DirectMessage struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConversationSummary is one entry of a user's direct-thread inbox,
// most recently active first.
type ConversationSummary struct {
	Counterpart    string    `json:"counterpart"`
	DisplayName    string    `json:"display_name"`
	LastPreview    string    `json:"last_preview"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Unread         int       `json:"unread"`
}

type PostMessageRequest struct {
	Community int    `json:"community"`
	Message   string `json:"message"`
}
