package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"course-chat/internal/auth"
	"course-chat/internal/models"
	"course-chat/internal/services"
	"course-chat/pkg/logger"

	"github.com/gorilla/mux"
)

type CommunityHandlers struct {
	communityService *services.CommunityService
	authService      *auth.Service
}

func NewCommunityHandlers(communityService *services.CommunityService, authService *auth.Service) *CommunityHandlers {
	return &CommunityHandlers{
		communityService: communityService,
		authService:      authService,
	}
}

func (h *CommunityHandlers) ListCommunities(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	communities, err := h.communityService.ListUserCommunities(r.Context(), user.ID)
	if err != nil {
		logger.Error("List communities error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, communities)
}

func (h *CommunityHandlers) CreateCommunity(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.CreateCommunityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	community, err := h.communityService.CreateCommunity(r.Context(), &req, user.ID)
	if err != nil {
		logger.Error("Create community error: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, community)
}

func (h *CommunityHandlers) JoinCommunity(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	communityID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid community ID", http.StatusBadRequest)
		return
	}

	if err := h.communityService.JoinCommunity(r.Context(), user.ID, communityID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CommunityHandlers) LeaveCommunity(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	communityID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid community ID", http.StatusBadRequest)
		return
	}

	if err := h.communityService.LeaveCommunity(r.Context(), user.ID, communityID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CommunityHandlers) GetMembers(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	communityID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid community ID", http.StatusBadRequest)
		return
	}

	members, err := h.communityService.GetMembers(r.Context(), communityID, user.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, members)
}

func (h *CommunityHandlers) GetActiveUsers(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	communityID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid community ID", http.StatusBadRequest)
		return
	}

	activeUsers, err := h.communityService.GetActiveUsers(r.Context(), communityID, user.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, activeUsers)
}

func (h *CommunityHandlers) DeleteCommunity(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	communityID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid community ID", http.StatusBadRequest)
		return
	}

	if err := h.communityService.DeleteCommunity(r.Context(), communityID, user.ID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CommunityHandlers) getUserFromToken(r *http.Request) (*models.User, error) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, fmt.Errorf("missing token")
	}
	return h.authService.GetUserFromToken(r.Context(), token)
}

func pathID(r *http.Request, name string) (int, error) {
	return strconv.Atoi(mux.Vars(r)[name])
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
