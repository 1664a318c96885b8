package handlers

import (
	"net/http"

	"course-chat/internal/auth"
	"course-chat/internal/database"
	"course-chat/internal/services"
	ws "course-chat/internal/websocket"
	"course-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService      *auth.Service
	communityService *services.CommunityService
	hubManager       *ws.Manager
	db               database.Database
	upgrader         websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, communityService *services.CommunityService, hubManager *ws.Manager, db database.Database) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService:      authService,
		communityService: communityService,
		hubManager:       hubManager,
		db:               db,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// HandleWebSocket authenticates the bearer credential, upgrades the
// connection and starts the client pumps. Room membership is established
// afterwards over the socket via join_room.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		tokenStr = auth.BearerToken(r.Header.Get("Authorization"))
	}
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	user, err := h.authService.GetUserFromToken(r.Context(), tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.hubManager, conn, user.ID, user.Username, user.Email, h.db)
	client.CanAccess = h.communityService.CanUserAccess

	go client.WritePump()
	go client.ReadPump()
}
