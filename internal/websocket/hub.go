package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"course-chat/internal/models"
	"course-chat/pkg/logger"
)

// broadcast carries a frame plus the connection it must not be echoed to.
// The originating client already holds an optimistic copy; it gets an ack
// instead of an echo.
type broadcast struct {
	data    []byte
	exclude *Client
}

type Hub struct {
	clients     map[*Client]bool
	count       atomic.Int32
	Broadcast   chan broadcast
	Register    chan *Client
	Unregister  chan *Client
	communityID int
	shutdown    chan bool
}

func NewHub(communityID int) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		Broadcast:   make(chan broadcast),
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		communityID: communityID,
		shutdown:    make(chan bool, 1),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			for client := range h.clients {
				client.closeSend()
			}
			return

		case client := <-h.Register:
			// Fill the newcomer's presence view before announcing them.
			for existing := range h.clients {
				client.enqueue(presenceFrame(models.EventParticipantJoined, h.communityID, existing))
			}
			h.clients[client] = true
			h.count.Store(int32(len(h.clients)))
			h.broadcastToAll(presenceFrame(models.EventParticipantJoined, h.communityID, client), nil)
			logger.Info("User %s joined community %d", client.username, h.communityID)

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.count.Store(int32(len(h.clients)))
				h.broadcastToAll(presenceFrame(models.EventParticipantLeft, h.communityID, client), nil)
				logger.Info("User %s left community %d", client.username, h.communityID)
			}

		case msg := <-h.Broadcast:
			h.broadcastToAll(msg.data, msg.exclude)
		}
	}
}

// broadcastToAll drops clients whose buffers are full. The send channel is
// closed through closeSend only, so enqueues racing in from other
// goroutines never hit a closed channel.
func (h *Hub) broadcastToAll(message []byte, exclude *Client) {
	if message == nil {
		return
	}
	for client := range h.clients {
		if client == exclude {
			continue
		}
		if !client.enqueue(message) {
			client.closeSend()
			delete(h.clients, client)
			h.count.Store(int32(len(h.clients)))
		}
	}
}

func presenceFrame(event string, communityID int, c *Client) []byte {
	data, err := models.NewEnvelope(event, models.PresenceEvent{
		Room:     communityID,
		Identity: c.email,
		Username: c.username,
	})
	if err != nil {
		logger.Error("Error marshaling presence event: %v", err)
		return nil
	}
	return data
}

func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

func (h *Hub) ShutdownHub() {
	select {
	case h.shutdown <- true:
	default:
	}
}

// Manager owns one hub per community and the identity registry used to
// route direct messages.
type Manager struct {
	hubs     map[int]*Hub
	registry map[string]*Client // identity -> connection
	mutex    sync.Mutex
}

func NewManager() *Manager {
	manager := &Manager{
		hubs:     make(map[int]*Hub),
		registry: make(map[string]*Client),
	}

	go manager.cleanupUnusedHubs()
	return manager
}

// JoinCommunity registers the connection with the community's hub,
// creating the hub on first use. Registration happens under the manager
// lock, so a hub can never be swept between lookup and register.
func (m *Manager) JoinCommunity(communityID int, c *Client) *Hub {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	hub, exists := m.hubs[communityID]
	if !exists {
		hub = NewHub(communityID)
		m.hubs[communityID] = hub
		go hub.Run()
	}
	hub.Register <- c
	return hub
}

// RegisterIdentity binds a live connection to a user identity so direct
// messages can be routed to it. Re-registration on reconnect replaces the
// previous binding.
func (m *Manager) RegisterIdentity(identity string, c *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.registry[identity] = c
}

func (m *Manager) UnregisterIdentity(identity string, c *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.registry[identity] == c {
		delete(m.registry, identity)
	}
}

func (m *Manager) LookupIdentity(identity string) *Client {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.registry[identity]
}

func (m *Manager) cleanupUnusedHubs() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.sweepEmptyHubs()
	}
}

func (m *Manager) sweepEmptyHubs() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for communityID, hub := range m.hubs {
		if hub.ClientCount() == 0 {
			hub.ShutdownHub()
			delete(m.hubs, communityID)
			logger.Debug("Cleaned up unused hub for community %d", communityID)
		}
	}
}
