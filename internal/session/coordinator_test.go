package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"course-chat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	emitted []models.Envelope
	frames  chan models.Envelope
	emitErr error
	closed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan models.Envelope, 32)}
}

func (t *fakeTransport) Emit(event string, data interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.emitErr != nil {
		return t.emitErr
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	t.emitted = append(t.emitted, models.Envelope{Event: event, Data: raw})
	return nil
}

func (t *fakeTransport) Frames() <-chan models.Envelope { return t.frames }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.frames)
	}
	return nil
}

func (t *fakeTransport) emittedEvents() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.emitted))
	for i, e := range t.emitted {
		out[i] = e.Event
	}
	return out
}

// fakeHistory serves canned pages; a room listed in gates blocks until its
// gate channel is closed, to exercise in-flight races.
type fakeHistory struct {
	mu     sync.Mutex
	rooms  map[int][]Message
	direct map[string][]Message
	gates  map[int]chan struct{}
	err    error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		rooms:  make(map[int][]Message),
		direct: make(map[string][]Message),
		gates:  make(map[int]chan struct{}),
	}
}

func (h *fakeHistory) CommunityHistory(ctx context.Context, roomID int) ([]Message, error) {
	h.mu.Lock()
	gate := h.gates[roomID]
	h.mu.Unlock()
	if gate != nil {
		<-gate
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return h.rooms[roomID], nil
}

func (h *fakeHistory) DirectHistory(ctx context.Context, counterpart string) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return h.direct[counterpart], nil
}

func frame(t *testing.T, event string, data interface{}) models.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return models.Envelope{Event: event, Data: raw}
}

func newTestCoordinator(t *testing.T, opts Options) (*Coordinator, *fakeTransport, *fakeHistory) {
	t.Helper()
	if opts.Identity == "" {
		opts.Identity = "me@example.com"
		opts.DisplayName = "me"
	}
	transport := newFakeTransport()
	history := newFakeHistory()
	return NewCoordinator(transport, history, opts), transport, history
}

func joinAndSettle(t *testing.T, c *Coordinator, room int) {
	t.Helper()
	require.NoError(t, c.SetActiveRoom(context.Background(), room))
	// History fetch runs async; wait for the replace to land.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.fetchApplied()
	}, time.Second, time.Millisecond)
}

// fetchApplied is a test hook: the log slice is non-nil once applyHistory
// ran, even for an empty page.
func (c *Coordinator) fetchApplied() bool {
	return c.log != nil
}

func TestStartRegistersIdentity(t *testing.T) {
	c, transport, _ := newTestCoordinator(t, Options{})
	require.NoError(t, c.Start())
	defer c.Close()

	require.Equal(t, []string{models.EventRegisterUser}, transport.emittedEvents())

	var ev models.RegisterUserEvent
	require.NoError(t, json.Unmarshal(transport.emitted[0].Data, &ev))
	assert.Equal(t, "me@example.com", ev.Identity)
}

func TestSetActiveRoomEmitsJoin(t *testing.T) {
	c, transport, _ := newTestCoordinator(t, Options{})
	joinAndSettle(t, c, 7)

	events := transport.emittedEvents()
	require.Contains(t, events, models.EventJoinRoom)

	kind, room, _ := c.ActiveContext()
	assert.Equal(t, ContextCommunity, kind)
	assert.Equal(t, 7, room)
}

func TestCommunityLogIsAppendOnly(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	joinAndSettle(t, c, 1)

	require.NoError(t, c.SendCommunity("hello"))
	c.handleFrame(frame(t, models.EventReceiveMessage, models.ChatEvent{
		ID: "m2", Type: "community", Room: 1,
		Sender: "alice@example.com", SenderName: "alice", Message: "hi",
		Timestamp: time.Now().UnixMilli(),
	}))
	require.NoError(t, c.SendCommunity("how are you"))

	log := c.Messages()
	require.Len(t, log, 3)
	assert.Equal(t, "hello", log[0].Body)
	assert.Equal(t, "hi", log[1].Body)
	assert.Equal(t, "how are you", log[2].Body)
}

func TestArrivalOrderBeatsTimestamps(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	joinAndSettle(t, c, 1)

	// Second arrival carries an older wall-clock timestamp; it still
	// lands after the first.
	c.handleFrame(frame(t, models.EventReceiveMessage, models.ChatEvent{
		ID: "a", Room: 1, Sender: "a@x.com", SenderName: "a", Message: "first",
		Timestamp: time.Now().UnixMilli(),
	}))
	c.handleFrame(frame(t, models.EventReceiveMessage, models.ChatEvent{
		ID: "b", Room: 1, Sender: "b@x.com", SenderName: "b", Message: "second",
		Timestamp: time.Now().Add(-time.Hour).UnixMilli(),
	}))

	log := c.Messages()
	require.Len(t, log, 2)
	assert.Equal(t, "first", log[0].Body)
	assert.Equal(t, "second", log[1].Body)
}

func TestMessagesForOtherRoomsAreIgnored(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	joinAndSettle(t, c, 1)

	c.handleFrame(frame(t, models.EventReceiveMessage, models.ChatEvent{
		ID: "x", Room: 2, Sender: "a@x.com", Message: "wrong room",
	}))

	assert.Empty(t, c.Messages())
}

func TestContextSwitchClearsLog(t *testing.T) {
	c, _, history := newTestCoordinator(t, Options{})
	history.rooms[1] = []Message{{ID: "h1", Kind: KindCommunity, Body: "old", Sender: "a@x.com"}}

	joinAndSettle(t, c, 1)
	require.NoError(t, c.SendCommunity("mine"))
	require.Len(t, c.Messages(), 2)

	c.OpenDirect(context.Background(), "alice@example.com")
	assert.Empty(t, c.Messages(), "direct context must start from an empty log")

	kind, _, counterpart := c.ActiveContext()
	assert.Equal(t, ContextDirect, kind)
	assert.Equal(t, "alice@example.com", counterpart)
}

func TestStaleHistoryResponseDiscarded(t *testing.T) {
	c, _, history := newTestCoordinator(t, Options{})
	history.rooms[1] = []Message{{ID: "a1", Body: "from room A", Sender: "a@x.com"}}
	history.rooms[2] = []Message{{ID: "b1", Body: "from room B", Sender: "b@x.com"}}

	gateA := make(chan struct{})
	history.gates[1] = gateA

	// Request A hangs in flight; request B resolves first.
	require.NoError(t, c.SetActiveRoom(context.Background(), 1))
	joinAndSettle(t, c, 2)

	log := c.Messages()
	require.Len(t, log, 1)
	assert.Equal(t, "from room B", log[0].Body)

	// A's late response must not clobber B's log.
	close(gateA)
	time.Sleep(20 * time.Millisecond)

	log = c.Messages()
	require.Len(t, log, 1)
	assert.Equal(t, "from room B", log[0].Body)
}

func TestHistoryReplaceKeepsPendingSends(t *testing.T) {
	c, _, history := newTestCoordinator(t, Options{})
	gate := make(chan struct{})
	history.gates[1] = gate
	history.rooms[1] = []Message{{ID: "h1", Body: "persisted", Sender: "a@x.com"}}

	require.NoError(t, c.SetActiveRoom(context.Background(), 1))
	require.NoError(t, c.SendCommunity("optimistic"))
	close(gate)

	require.Eventually(t, func() bool { return len(c.Messages()) == 2 }, time.Second, time.Millisecond)
	log := c.Messages()
	assert.Equal(t, "persisted", log[0].Body)
	assert.Equal(t, "optimistic", log[1].Body)
	assert.Equal(t, StatePending, log[1].State)
}

func TestAckConfirmsPendingSend(t *testing.T) {
	c, transport, _ := newTestCoordinator(t, Options{})
	joinAndSettle(t, c, 1)
	require.NoError(t, c.SendCommunity("hello"))

	var sent models.SendMessageEvent
	last := transport.emitted[len(transport.emitted)-1]
	require.NoError(t, json.Unmarshal(last.Data, &sent))
	require.NotEmpty(t, sent.ClientRef)

	c.handleFrame(frame(t, models.EventMessageAck, models.MessageAckEvent{
		ClientRef: sent.ClientRef, ID: "srv-1", OK: true,
	}))

	log := c.Messages()
	require.Len(t, log, 1)
	assert.Equal(t, StateConfirmed, log[0].State)
	assert.Equal(t, "srv-1", log[0].ID)
}

func TestNackMarksSendFailedWithoutRetracting(t *testing.T) {
	var reported error
	c, transport, _ := newTestCoordinator(t, Options{OnError: func(err error) { reported = err }})
	joinAndSettle(t, c, 1)
	require.NoError(t, c.SendCommunity("hello"))

	var sent models.SendMessageEvent
	last := transport.emitted[len(transport.emitted)-1]
	require.NoError(t, json.Unmarshal(last.Data, &sent))

	c.handleFrame(frame(t, models.EventMessageAck, models.MessageAckEvent{
		ClientRef: sent.ClientRef, OK: false, Error: "persist failed",
	}))

	log := c.Messages()
	require.Len(t, log, 1, "failed send stays visible")
	assert.Equal(t, StateFailed, log[0].State)
	require.Error(t, reported)
}

func TestEmitFailureMarksSendFailed(t *testing.T) {
	c, transport, _ := newTestCoordinator(t, Options{OnError: func(error) {}})
	joinAndSettle(t, c, 1)

	transport.mu.Lock()
	transport.emitErr = fmt.Errorf("broken pipe")
	transport.mu.Unlock()

	require.Error(t, c.SendCommunity("doomed"))
	log := c.Messages()
	require.Len(t, log, 1)
	assert.Equal(t, StateFailed, log[0].State)
}

func TestJoinDenialClearsContextAndSurfaces(t *testing.T) {
	var reported error
	c, transport, _ := newTestCoordinator(t, Options{OnError: func(err error) { reported = err }})
	require.NoError(t, c.SetActiveRoom(context.Background(), 3))

	var join models.JoinRoomEvent
	require.NoError(t, json.Unmarshal(transport.emitted[len(transport.emitted)-1].Data, &join))
	require.NotEmpty(t, join.ClientRef)

	c.handleFrame(frame(t, models.EventMessageAck, models.MessageAckEvent{
		ClientRef: join.ClientRef, OK: false, Error: "not a member of this community",
	}))

	kind, room, _ := c.ActiveContext()
	assert.Equal(t, ContextNone, kind)
	assert.Equal(t, 0, room)
	require.Error(t, reported)
	assert.Contains(t, reported.Error(), "not a member")
}

func TestJoinAckConfirmsRoomSwitch(t *testing.T) {
	c, transport, _ := newTestCoordinator(t, Options{})
	joinAndSettle(t, c, 3)

	var join models.JoinRoomEvent
	require.NoError(t, json.Unmarshal(transport.emitted[len(transport.emitted)-1].Data, &join))

	c.handleFrame(frame(t, models.EventMessageAck, models.MessageAckEvent{
		ClientRef: join.ClientRef, OK: true,
	}))

	kind, room, _ := c.ActiveContext()
	assert.Equal(t, ContextCommunity, kind)
	assert.Equal(t, 3, room)
}

func TestDirectMessageBuildsConversationIndex(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})

	// First contact from a new counterpart inserts at the front.
	c.handleFrame(frame(t, models.EventReceiveDirect, models.ChatEvent{
		ID: "d1", Type: "direct", Sender: "alice@example.com", SenderName: "alice",
		Message: "hey there", Timestamp: time.Now().UnixMilli(),
	}))

	convs := c.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "alice@example.com", convs[0].Counterpart)
	assert.Equal(t, "hey there", convs[0].LastPreview)
	assert.Equal(t, 1, convs[0].Unread)

	// Replying updates the same entry in place; the index does not grow.
	c.OpenDirect(context.Background(), "alice@example.com")
	require.NoError(t, c.SendDirect("hi alice"))

	convs = c.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "alice@example.com", convs[0].Counterpart)
	assert.Equal(t, "hi alice", convs[0].LastPreview)
	assert.Equal(t, 0, convs[0].Unread, "opening the thread marks it read")
}

func TestConversationIndexMoveToFront(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})

	for _, who := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		c.handleFrame(frame(t, models.EventReceiveDirect, models.ChatEvent{
			Type: "direct", Sender: who, SenderName: who, Message: "hi from " + who,
			Timestamp: time.Now().UnixMilli(),
		}))
	}
	// Activity from the oldest thread moves it back to the front.
	c.handleFrame(frame(t, models.EventReceiveDirect, models.ChatEvent{
		Type: "direct", Sender: "a@x.com", SenderName: "a@x.com", Message: "again",
		Timestamp: time.Now().UnixMilli(),
	}))

	convs := c.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, "a@x.com", convs[0].Counterpart)
	assert.Equal(t, 2, convs[0].Unread)
}

func TestActiveDirectThreadAppendsAndStaysRead(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	c.OpenDirect(context.Background(), "alice@example.com")

	c.handleFrame(frame(t, models.EventReceiveDirect, models.ChatEvent{
		Type: "direct", Sender: "alice@example.com", SenderName: "alice", Message: "hi",
		Timestamp: time.Now().UnixMilli(),
	}))
	// Traffic from someone else does not leak into the visible log.
	c.handleFrame(frame(t, models.EventReceiveDirect, models.ChatEvent{
		Type: "direct", Sender: "bob@example.com", SenderName: "bob", Message: "yo",
		Timestamp: time.Now().UnixMilli(),
	}))

	log := c.Messages()
	require.Len(t, log, 1)
	assert.Equal(t, "hi", log[0].Body)

	convs := c.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "bob@example.com", convs[0].Counterpart, "bob's thread is newest")
	assert.Equal(t, 1, convs[0].Unread)
	for _, conv := range convs {
		if conv.Counterpart == "alice@example.com" {
			assert.Equal(t, 0, conv.Unread, "active thread accrues no unread")
		}
	}
}

func TestDirectHistoryFetchedOnlyWhenEnabled(t *testing.T) {
	history := []Message{{ID: "d0", Kind: KindDirect, Body: "earlier", Sender: "alice@example.com"}}

	c, _, h := newTestCoordinator(t, Options{})
	h.direct["alice@example.com"] = history
	c.OpenDirect(context.Background(), "alice@example.com")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.Messages(), "direct history stays off by default")

	c2, _, h2 := newTestCoordinator(t, Options{FetchDirectHistory: true})
	h2.direct["alice@example.com"] = history
	c2.OpenDirect(context.Background(), "alice@example.com")
	require.Eventually(t, func() bool { return len(c2.Messages()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "earlier", c2.Messages()[0].Body)
}

func TestPresenceKeyedByIdentity(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	joinAndSettle(t, c, 1)

	// Two participants sharing a display name stay distinct.
	c.handleFrame(frame(t, models.EventParticipantJoined, models.PresenceEvent{Room: 1, Identity: "a@x.com", Username: "sam"}))
	c.handleFrame(frame(t, models.EventParticipantJoined, models.PresenceEvent{Room: 1, Identity: "b@x.com", Username: "sam"}))
	assert.Len(t, c.Presence(), 2)

	c.handleFrame(frame(t, models.EventParticipantLeft, models.PresenceEvent{Room: 1, Identity: "a@x.com"}))
	assert.Len(t, c.Presence(), 1)

	// Presence for other rooms is ignored.
	c.handleFrame(frame(t, models.EventParticipantJoined, models.PresenceEvent{Room: 9, Identity: "c@x.com", Username: "zoe"}))
	assert.Len(t, c.Presence(), 1)
}

func TestMalformedEventFallbacks(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	joinAndSettle(t, c, 1)

	before := time.Now()
	c.handleFrame(frame(t, models.EventReceiveMessage, models.ChatEvent{
		Room: 1, Sender: "a@x.com", Message: "no name, no timestamp",
	}))

	log := c.Messages()
	require.Len(t, log, 1)
	assert.Equal(t, "User", log[0].SenderName)
	assert.False(t, log[0].SentAt.Before(before.Truncate(time.Second)))
}

func TestNotificationCallback(t *testing.T) {
	var gotFrom, gotPreview string
	c, _, _ := newTestCoordinator(t, Options{
		Notify: func(from, senderName, preview string) {
			gotFrom, gotPreview = from, preview
		},
	})

	c.handleFrame(frame(t, models.EventNotification, models.NotificationEvent{
		From: "alice@example.com", SenderName: "alice", Preview: "ping",
	}))

	assert.Equal(t, "alice@example.com", gotFrom)
	assert.Equal(t, "ping", gotPreview)
}

func TestCloseEndsSession(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	require.NoError(t, c.Start())
	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not terminate after Close")
	}
	require.Error(t, c.Err())
}
