package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"course-chat/internal/database"
	"course-chat/internal/models"
	"course-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the client pumps need. Tests
// substitute an in-memory implementation.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	SetPongHandler(func(string) error)
	Close() error
}

type Client struct {
	manager   *Manager
	hub       *Hub // active community hub, nil until join_room
	conn      Conn
	userID    int
	username  string
	email     string
	sessionID string
	db        database.Database

	send       chan []byte
	sendMu     sync.Mutex
	sendClosed bool

	// CanAccess reports whether the user may join the given community.
	// Injected by the handler so the pump does not depend on the service
	// layer.
	CanAccess func(ctx context.Context, userID, communityID int) (bool, error)
}

func NewClient(manager *Manager, conn Conn, userID int, username, email string, db database.Database) *Client {
	return &Client{
		manager:   manager,
		conn:      conn,
		send:      make(chan []byte, 256),
		userID:    userID,
		username:  username,
		email:     email,
		sessionID: uuid.NewString(),
		db:        db,
	}
}

// enqueue hands a frame to the write pump without blocking. It reports
// false when the buffer is full or the channel is gone. Frames reach this
// client from several goroutines (its own read pump for acks, the hub,
// other connections' read pumps for direct deliveries), so the channel is
// only ever closed by closeSend, under the same lock.
func (c *Client) enqueue(data []byte) bool {
	if data == nil {
		return true
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.leaveCurrentHub()
		c.manager.UnregisterIdentity(c.email, c)
		c.conn.Close()
	}()

	// Read deadline and pong handler for connection health
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error: %v", err)
			}
			break
		}

		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Debug("Dropping malformed frame from %s: %v", c.email, err)
			continue
		}

		c.dispatch(&env)
	}
}

func (c *Client) dispatch(env *models.Envelope) {
	switch env.Event {
	case models.EventRegisterUser:
		var ev models.RegisterUserEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return
		}
		// Route by the authenticated identity, not the claimed one.
		if ev.Identity != "" && ev.Identity != c.email {
			logger.Debug("register_user identity %q ignored for %s", ev.Identity, c.email)
		}
		c.manager.RegisterIdentity(c.email, c)

	case models.EventJoinRoom:
		var ev models.JoinRoomEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return
		}
		c.joinCommunity(&ev)

	case models.EventSendMessage:
		var ev models.SendMessageEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return
		}
		c.handleCommunityMessage(&ev)

	case models.EventSendDirectMessage:
		var ev models.SendDirectMessageEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return
		}
		c.handleDirectMessage(&ev)

	default:
		logger.Debug("Unknown event %q from %s", env.Event, c.email)
	}
}

// joinCommunity is the atomic room switch: membership in the previous
// community is dropped before the new hub is joined, so a connection is in
// at most one community at a time. Both outcomes are acked under the
// request's client ref.
func (c *Client) joinCommunity(ev *models.JoinRoomEvent) {
	ctx := context.Background()

	if c.CanAccess != nil {
		ok, err := c.CanAccess(ctx, c.userID, ev.Room)
		if err != nil || !ok {
			c.enqueue(ackFrame(ev.ClientRef, "", false, "not a member of this community"))
			return
		}
	}

	c.leaveCurrentHub()

	if err := c.db.CreateActiveSession(ctx, c.userID, ev.Room, c.sessionID); err != nil {
		logger.Error("Error creating active session: %v", err)
	}
	c.hub = c.manager.JoinCommunity(ev.Room, c)
	c.enqueue(ackFrame(ev.ClientRef, "", true, ""))
}

func (c *Client) leaveCurrentHub() {
	if c.hub == nil {
		return
	}
	ctx := context.Background()
	if err := c.db.RemoveActiveSession(ctx, c.userID, c.hub.communityID, c.sessionID); err != nil {
		logger.Error("Error removing active session: %v", err)
	}
	c.hub.Unregister <- c
	c.hub = nil
}

func (c *Client) handleCommunityMessage(ev *models.SendMessageEvent) {
	if c.hub == nil || ev.Room != c.hub.communityID {
		c.enqueue(ackFrame(ev.ClientRef, "", false, "not joined to this community"))
		return
	}

	ctx := context.Background()
	if err := c.db.UpdateSessionActivity(ctx, c.userID, c.hub.communityID, c.sessionID); err != nil {
		logger.Error("Error updating session activity: %v", err)
	}

	msg := &models.Message{
		ID:          uuid.NewString(),
		CommunityID: ev.Room,
		UserID:      c.userID,
		Sender:      c.email,
		SenderName:  c.username,
		Body:        ev.Message,
		CreatedAt:   time.Now(),
	}
	if err := c.db.SaveMessage(ctx, msg); err != nil {
		logger.Error("Error saving message: %v", err)
		c.enqueue(ackFrame(ev.ClientRef, "", false, "failed to persist message"))
		return
	}

	c.enqueue(ackFrame(ev.ClientRef, msg.ID, true, ""))

	data, err := models.NewEnvelope(models.EventReceiveMessage, models.ChatEvent{
		ID:         msg.ID,
		Type:       "community",
		Room:       msg.CommunityID,
		Sender:     msg.Sender,
		SenderName: msg.SenderName,
		Message:    msg.Body,
		Timestamp:  msg.CreatedAt.UnixMilli(),
	})
	if err != nil {
		logger.Error("Error marshaling message: %v", err)
		return
	}
	// The sender got an ack; everyone else gets the broadcast.
	c.hub.Broadcast <- broadcast{data: data, exclude: c}
}

func (c *Client) handleDirectMessage(ev *models.SendDirectMessageEvent) {
	ctx := context.Background()

	msg := &models.DirectMessage{
		ID:         uuid.NewString(),
		From:       c.email,
		To:         ev.To,
		SenderName: c.username,
		Body:       ev.Message,
		CreatedAt:  time.Now(),
	}
	if err := c.db.SaveDirectMessage(ctx, msg); err != nil {
		logger.Error("Error saving direct message: %v", err)
		c.enqueue(ackFrame(ev.ClientRef, "", false, "failed to persist message"))
		return
	}

	c.enqueue(ackFrame(ev.ClientRef, msg.ID, true, ""))

	recipient := c.manager.LookupIdentity(ev.To)
	if recipient == nil {
		// Offline recipient picks the message up from history.
		return
	}

	delivery, err := models.NewEnvelope(models.EventReceiveDirect, models.ChatEvent{
		ID:         msg.ID,
		Type:       "direct",
		Sender:     msg.From,
		SenderName: msg.SenderName,
		Message:    msg.Body,
		Timestamp:  msg.CreatedAt.UnixMilli(),
	})
	if err != nil {
		logger.Error("Error marshaling direct message: %v", err)
		return
	}
	recipient.enqueue(delivery)

	notify, err := models.NewEnvelope(models.EventNotification, models.NotificationEvent{
		From:       msg.From,
		SenderName: msg.SenderName,
		Preview:    msg.Body,
	})
	if err == nil {
		recipient.enqueue(notify)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func ackFrame(clientRef, id string, ok bool, errMsg string) []byte {
	data, err := models.NewEnvelope(models.EventMessageAck, models.MessageAckEvent{
		ClientRef: clientRef,
		ID:        id,
		OK:        ok,
		Error:     errMsg,
	})
	if err != nil {
		logger.Error("Error marshaling ack: %v", err)
		return nil
	}
	return data
}
