package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"course-chat/internal/auth"
	"course-chat/internal/database"
	"course-chat/internal/models"
	"course-chat/internal/services"
	"course-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const historyPageSize = 100

type ChatHandlers struct {
	authService      *auth.Service
	communityService *services.CommunityService
	db               database.Database
}

func NewChatHandlers(authService *auth.Service, communityService *services.CommunityService, db database.Database) *ChatHandlers {
	return &ChatHandlers{
		authService:      authService,
		communityService: communityService,
		db:               db,
	}
}

// GetMessages serves GET /chat/messages/{roomId}: the persisted community
// log, oldest first.
func (h *ChatHandlers) GetMessages(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	communityID, err := pathID(r, "roomId")
	if err != nil {
		http.Error(w, "invalid room ID", http.StatusBadRequest)
		return
	}

	canAccess, err := h.communityService.CanUserAccess(r.Context(), user.ID, communityID)
	if err != nil || !canAccess {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	messages, err := h.db.LoadMessages(r.Context(), communityID, historyPageSize)
	if err != nil {
		logger.Error("Load messages error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	writeJSON(w, http.StatusOK, messages)
}

// PostMessage serves POST /chat/message: persist a community message
// outside the realtime path.
func (h *ChatHandlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	canAccess, err := h.communityService.CanUserAccess(r.Context(), user.ID, req.Community)
	if err != nil || !canAccess {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	msg := &models.Message{
		ID:          uuid.NewString(),
		CommunityID: req.Community,
		UserID:      user.ID,
		Sender:      user.Email,
		SenderName:  user.Username,
		Body:        req.Message,
		CreatedAt:   time.Now(),
	}
	if err := h.db.SaveMessage(r.Context(), msg); err != nil {
		logger.Error("Save message error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// GetDirectThread serves GET /chat/direct/{counterpart}: the persisted
// direct thread between the caller and the counterpart.
func (h *ChatHandlers) GetDirectThread(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	counterpart := mux.Vars(r)["counterpart"]
	if counterpart == "" {
		http.Error(w, "counterpart is required", http.StatusBadRequest)
		return
	}

	messages, err := h.db.LoadDirectThread(r.Context(), user.Email, counterpart, historyPageSize)
	if err != nil {
		logger.Error("Load direct thread error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*models.DirectMessage{}
	}

	writeJSON(w, http.StatusOK, messages)
}

// GetConversations serves GET /chat/conversations: the caller's direct
// threads, most recently active first.
func (h *ChatHandlers) GetConversations(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conversations, err := h.db.ListConversations(r.Context(), user.Email)
	if err != nil {
		logger.Error("List conversations error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if conversations == nil {
		conversations = []*models.ConversationSummary{}
	}

	writeJSON(w, http.StatusOK, conversations)
}

func (h *ChatHandlers) getUserFromToken(r *http.Request) (*models.User, error) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, fmt.Errorf("missing token")
	}
	return h.authService.GetUserFromToken(r.Context(), token)
}
