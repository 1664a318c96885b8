package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"course-chat/internal/models"
	"course-chat/pkg/logger"

	"github.com/google/uuid"
)

// Transport is the live bidirectional connection the coordinator owns for
// the lifetime of a session. Frames is closed when the connection drops;
// the coordinator does not reconnect on its own.
type Transport interface {
	Emit(event string, data interface{}) error
	Frames() <-chan models.Envelope
	Close() error
}

// HistoryAPI loads persisted logs when the active context changes.
type HistoryAPI interface {
	CommunityHistory(ctx context.Context, roomID int) ([]Message, error)
	DirectHistory(ctx context.Context, counterpart string) ([]Message, error)
}

type Options struct {
	Identity    string
	DisplayName string

	// FetchDirectHistory controls whether opening a direct thread loads
	// its persisted log. Off by default: direct threads start empty and
	// fill from live traffic only.
	FetchDirectHistory bool

	// Notify fires on new_message_notification, outside any lock.
	Notify func(from, senderName, preview string)

	// OnError surfaces non-fatal failures (failed sends, history fetch
	// errors). Optional.
	OnError func(err error)
}

// pendingSend ties an optimistic log entry to the context it was sent in,
// so a history replace can re-append sends that are still unacknowledged.
type pendingSend struct {
	msg         *Message
	room        int
	counterpart string
}

type Coordinator struct {
	opts      Options
	transport Transport
	history   HistoryAPI

	mu          sync.Mutex
	ctxKind     ContextKind
	room        int
	counterpart string
	joinRef     string // client ref of the in-flight join_room, if any
	log         []*Message
	pending     map[string]pendingSend
	convs       *conversationIndex
	presence    *presenceSet
	fetchSeq    uint64

	done chan struct{}
	err  error
}

func NewCoordinator(transport Transport, history HistoryAPI, opts Options) *Coordinator {
	return &Coordinator{
		opts:      opts,
		transport: transport,
		history:   history,
		pending:   make(map[string]pendingSend),
		convs:     newConversationIndex(),
		presence:  newPresenceSet(),
		done:      make(chan struct{}),
	}
}

// Start announces the user's identity for direct-message routing and
// begins consuming the event stream. Call it once per connection; a caller
// that re-dials builds a fresh coordinator, so registration is re-sent on
// every reconnect.
func (c *Coordinator) Start() error {
	if err := c.transport.Emit(models.EventRegisterUser, models.RegisterUserEvent{Identity: c.opts.Identity}); err != nil {
		return fmt.Errorf("register_user: %w", err)
	}
	go c.run()
	return nil
}

// Close releases the connection. The event loop drains and exits.
func (c *Coordinator) Close() error {
	return c.transport.Close()
}

// Done is closed when the event stream ends, whether by Close or by a
// dropped connection.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Coordinator) run() {
	defer close(c.done)
	for env := range c.transport.Frames() {
		c.handleFrame(env)
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("connection closed")
	}
	c.mu.Unlock()
}

// SetActiveRoom switches the session to a community room: one atomic
// operation that signals the join, clears the visible log and presence,
// and kicks off a tagged history fetch. The join carries a client ref so
// a server-side denial can be correlated and surfaced; until then the
// switch is optimistic, like sends.
func (c *Coordinator) SetActiveRoom(ctx context.Context, roomID int) error {
	ref := uuid.NewString()

	c.mu.Lock()
	c.ctxKind = ContextCommunity
	c.room = roomID
	c.counterpart = ""
	c.joinRef = ref
	c.log = nil
	c.presence.Reset()
	c.fetchSeq++
	seq := c.fetchSeq
	c.mu.Unlock()

	if err := c.transport.Emit(models.EventJoinRoom, models.JoinRoomEvent{
		Room:      roomID,
		Username:  c.opts.DisplayName,
		ClientRef: ref,
	}); err != nil {
		c.mu.Lock()
		if c.joinRef == ref {
			c.clearContextLocked()
		}
		c.mu.Unlock()
		return fmt.Errorf("join_room: %w", err)
	}

	go c.fetchCommunityHistory(ctx, seq, roomID)
	return nil
}

// OpenDirect switches the session to a direct thread. No join signal is
// needed; direct routing was established by register_user.
func (c *Coordinator) OpenDirect(ctx context.Context, counterpart string) {
	c.mu.Lock()
	c.ctxKind = ContextDirect
	c.counterpart = counterpart
	c.room = 0
	c.joinRef = ""
	c.log = nil
	c.presence.Reset()
	c.convs.MarkRead(counterpart)
	c.fetchSeq++
	seq := c.fetchSeq
	fetch := c.opts.FetchDirectHistory
	c.mu.Unlock()

	if fetch {
		go c.fetchDirectHistory(ctx, seq, counterpart)
	}
}

// ClearContext deselects any conversation and empties the visible log.
func (c *Coordinator) ClearContext() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearContextLocked()
}

func (c *Coordinator) clearContextLocked() {
	c.ctxKind = ContextNone
	c.room = 0
	c.counterpart = ""
	c.joinRef = ""
	c.log = nil
	c.presence.Reset()
	c.fetchSeq++
}

// SendCommunity appends the message optimistically as pending and emits
// it. A failed emit (or a negative ack later) marks the entry failed; it
// is never retracted.
func (c *Coordinator) SendCommunity(body string) error {
	c.mu.Lock()
	if c.ctxKind != ContextCommunity {
		c.mu.Unlock()
		return fmt.Errorf("no active community room")
	}
	room := c.room
	msg := c.appendPendingLocked(KindCommunity, body, room, "")
	c.mu.Unlock()

	err := c.transport.Emit(models.EventSendMessage, models.SendMessageEvent{
		Type:       "community",
		Room:       room,
		Message:    body,
		Sender:     c.opts.Identity,
		SenderName: c.opts.DisplayName,
		Timestamp:  msg.SentAt.UnixMilli(),
		ClientRef:  msg.ref,
	})
	if err != nil {
		c.failPending(msg.ref, err)
		return fmt.Errorf("send_message: %w", err)
	}
	return nil
}

// SendDirect appends optimistically, emits, and touches the conversation
// index so the counterpart's thread moves to the front.
func (c *Coordinator) SendDirect(body string) error {
	c.mu.Lock()
	if c.ctxKind != ContextDirect {
		c.mu.Unlock()
		return fmt.Errorf("no active direct thread")
	}
	counterpart := c.counterpart
	msg := c.appendPendingLocked(KindDirect, body, 0, counterpart)
	c.convs.Touch(counterpart, "", body, msg.SentAt, false)
	c.mu.Unlock()

	err := c.transport.Emit(models.EventSendDirectMessage, models.SendDirectMessageEvent{
		Type:       "direct",
		To:         counterpart,
		Message:    body,
		Sender:     c.opts.Identity,
		SenderName: c.opts.DisplayName,
		Timestamp:  msg.SentAt.UnixMilli(),
		ClientRef:  msg.ref,
	})
	if err != nil {
		c.failPending(msg.ref, err)
		return fmt.Errorf("send_direct_message: %w", err)
	}
	return nil
}

func (c *Coordinator) appendPendingLocked(kind Kind, body string, room int, counterpart string) *Message {
	msg := &Message{
		Kind:       kind,
		Body:       body,
		Sender:     c.opts.Identity,
		SenderName: c.opts.DisplayName,
		SentAt:     time.Now(),
		State:      StatePending,
		ref:        uuid.NewString(),
	}
	c.log = append(c.log, msg)
	c.pending[msg.ref] = pendingSend{msg: msg, room: room, counterpart: counterpart}
	return msg
}

func (c *Coordinator) failPending(ref string, err error) {
	c.mu.Lock()
	if p, ok := c.pending[ref]; ok {
		p.msg.State = StateFailed
		delete(c.pending, ref)
	}
	c.mu.Unlock()
	c.reportError(err)
}

// Snapshots

func (c *Coordinator) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.log))
	for i, m := range c.log {
		out[i] = *m
	}
	return out
}

func (c *Coordinator) Conversations() []Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convs.List()
}

func (c *Coordinator) Presence() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence.List()
}

func (c *Coordinator) ActiveContext() (ContextKind, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctxKind, c.room, c.counterpart
}

// Event handling

func (c *Coordinator) handleFrame(env models.Envelope) {
	switch env.Event {
	case models.EventMessageAck:
		var ev models.MessageAckEvent
		if json.Unmarshal(env.Data, &ev) == nil {
			c.handleAck(&ev)
		}
	case models.EventReceiveMessage:
		var ev models.ChatEvent
		if json.Unmarshal(env.Data, &ev) == nil {
			c.handleCommunityEvent(&ev)
		}
	case models.EventReceiveDirect:
		var ev models.ChatEvent
		if json.Unmarshal(env.Data, &ev) == nil {
			c.handleDirectEvent(&ev)
		}
	case models.EventNotification:
		var ev models.NotificationEvent
		if json.Unmarshal(env.Data, &ev) == nil && c.opts.Notify != nil {
			c.opts.Notify(ev.From, ev.SenderName, ev.Preview)
		}
	case models.EventParticipantJoined, models.EventParticipantLeft:
		var ev models.PresenceEvent
		if json.Unmarshal(env.Data, &ev) == nil {
			c.handlePresenceEvent(env.Event, &ev)
		}
	default:
		logger.Debug("Ignoring event %q", env.Event)
	}
}

func (c *Coordinator) handleAck(ev *models.MessageAckEvent) {
	var failure error
	c.mu.Lock()
	if p, ok := c.pending[ev.ClientRef]; ok {
		delete(c.pending, ev.ClientRef)
		if ev.OK {
			p.msg.State = StateConfirmed
			p.msg.ID = ev.ID
		} else {
			p.msg.State = StateFailed
			failure = fmt.Errorf("send rejected: %s", ev.Error)
		}
	} else if ev.ClientRef != "" && ev.ClientRef == c.joinRef {
		c.joinRef = ""
		if !ev.OK {
			// The optimistic room switch was denied; fall back to no
			// context rather than sit in a room the server refused.
			failure = fmt.Errorf("join rejected: %s", ev.Error)
			c.clearContextLocked()
		}
	}
	c.mu.Unlock()
	if failure != nil {
		c.reportError(failure)
	}
}

func (c *Coordinator) handleCommunityEvent(ev *models.ChatEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctxKind != ContextCommunity || ev.Room != c.room {
		return
	}
	c.log = append(c.log, messageFromEvent(ev, KindCommunity))
}

func (c *Coordinator) handleDirectEvent(ev *models.ChatEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := c.ctxKind == ContextDirect && c.counterpart == ev.Sender
	msg := messageFromEvent(ev, KindDirect)
	c.convs.Touch(ev.Sender, msg.SenderName, msg.Body, msg.SentAt, !active)
	if active {
		c.log = append(c.log, msg)
	}
}

func (c *Coordinator) handlePresenceEvent(event string, ev *models.PresenceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctxKind != ContextCommunity || ev.Room != c.room {
		return
	}
	if event == models.EventParticipantJoined {
		c.presence.Add(ev.Identity, ev.Username)
	} else {
		c.presence.Remove(ev.Identity)
	}
}

// History loading

func (c *Coordinator) fetchCommunityHistory(ctx context.Context, seq uint64, roomID int) {
	messages, err := c.history.CommunityHistory(ctx, roomID)
	c.applyHistory(seq, messages, err, func() bool {
		return c.ctxKind == ContextCommunity && c.room == roomID
	}, func(p pendingSend) bool {
		return p.room == roomID
	})
}

func (c *Coordinator) fetchDirectHistory(ctx context.Context, seq uint64, counterpart string) {
	messages, err := c.history.DirectHistory(ctx, counterpart)
	c.applyHistory(seq, messages, err, func() bool {
		return c.ctxKind == ContextDirect && c.counterpart == counterpart
	}, func(p pendingSend) bool {
		return p.counterpart == counterpart
	})
}

// applyHistory replaces the visible log with a fetched page, unless the
// response is stale: the active context moved on while the request was in
// flight. Still-pending local sends for the same context survive the
// replace, appended after the fetched page.
func (c *Coordinator) applyHistory(seq uint64, messages []Message, err error, stillCurrent func() bool, keep func(pendingSend) bool) {
	c.mu.Lock()
	if seq != c.fetchSeq || !stillCurrent() {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.reportError(fmt.Errorf("history fetch: %w", err))
		return
	}

	log := make([]*Message, 0, len(messages))
	for i := range messages {
		m := messages[i]
		m.State = StateConfirmed
		log = append(log, &m)
	}
	var kept []*Message
	for _, p := range c.pending {
		if p.msg.State == StatePending && keep(p) {
			kept = append(kept, p.msg)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].SentAt.Before(kept[j].SentAt) })
	c.log = append(log, kept...)
	c.mu.Unlock()
}

func (c *Coordinator) reportError(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
		return
	}
	logger.Error("session: %v", err)
}

func messageFromEvent(ev *models.ChatEvent, kind Kind) *Message {
	senderName := ev.SenderName
	if senderName == "" {
		senderName = "User"
	}
	sentAt := time.Now()
	if ev.Timestamp > 0 {
		sentAt = time.UnixMilli(ev.Timestamp)
	}
	return &Message{
		ID:         ev.ID,
		Kind:       kind,
		Body:       ev.Message,
		Sender:     ev.Sender,
		SenderName: senderName,
		SentAt:     sentAt,
		State:      StateConfirmed,
	}
}
