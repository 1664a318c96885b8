package models

import "encoding/json"

// Realtime protocol: every frame is an Envelope carrying one named event.

const (
	// client -> server
	EventRegisterUser      = "register_user"
	EventJoinRoom          = "join_room"
	EventSendMessage       = "send_message"
	EventSendDirectMessage = "send_direct_message"

	// server -> client
	EventMessageAck        = "message_ack"
	EventReceiveMessage    = "receive_message"
	EventReceiveDirect     = "receive_direct_message"
	EventNotification      = "new_message_notification"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func NewEnvelope(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type RegisterUserEvent struct {
	Identity string `json:"identity"`
}

// JoinRoomEvent requests a room switch. ClientRef is echoed back in the
// ack so the requester can correlate a denial with the join it issued.
type JoinRoomEvent struct {
	Room      int    `json:"room"`
	Username  string `json:"username"`
	ClientRef string `json:"client_ref,omitempty"`
}

// SendMessageEvent carries an outgoing community message. ClientRef is a
// caller-chosen id echoed back in the ack so the sender can reconcile its
// optimistic entry.
type SendMessageEvent struct {
	Type       string `json:"type"` // "community"
	Room       int    `json:"room"`
	Message    string `json:"message"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName"`
	Timestamp  int64  `json:"timestamp"`
	ClientRef  string `json:"client_ref,omitempty"`
}

type SendDirectMessageEvent struct {
	Type       string `json:"type"` // "direct"
	To         string `json:"to"`
	Message    string `json:"message"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName"`
	Timestamp  int64  `json:"timestamp"`
	ClientRef  string `json:"client_ref,omitempty"`
}

type MessageAckEvent struct {
	ClientRef string `json:"client_ref"`
	ID        string `json:"id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// ChatEvent is the payload of receive_message and receive_direct_message.
type ChatEvent struct {
	ID         string `json:"id"`
	Type       string `json:"type"` // "community" | "direct"
	Room       int    `json:"room,omitempty"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName"`
	Message    string `json:"message"`
	Timestamp  int64  `json:"timestamp"`
}

type NotificationEvent struct {
	From       string `json:"from"`
	SenderName string `json:"senderName"`
	Preview    string `json:"preview"`
}

// PresenceEvent is keyed by stable identity; the display name rides along
// for rendering only.
type PresenceEvent struct {
	Room     int    `json:"room"`
	Identity string `json:"identity"`
	Username string `json:"username"`
}
