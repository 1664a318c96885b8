package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"course-chat/internal/auth"
	"course-chat/internal/config"
	"course-chat/internal/database"
	"course-chat/internal/handlers"
	"course-chat/internal/services"
	"course-chat/internal/websocket"
	"course-chat/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize services
	authService := auth.NewService(db, cfg)
	communityService := services.NewCommunityService(db)

	// Initialize WebSocket hub manager
	hubManager := websocket.NewManager()

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(authService)
	communityHandlers := handlers.NewCommunityHandlers(communityService, authService)
	chatHandlers := handlers.NewChatHandlers(authService, communityService, db)
	wsHandlers := handlers.NewWebSocketHandlers(authService, communityService, hubManager, db)

	// Setup routes
	router := mux.NewRouter()
	setupRoutes(router, authHandlers, communityHandlers, chatHandlers, wsHandlers)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")
}

func setupRoutes(router *mux.Router, authHandlers *handlers.AuthHandlers, communityHandlers *handlers.CommunityHandlers, chatHandlers *handlers.ChatHandlers, wsHandlers *handlers.WebSocketHandlers) {
	// Auth routes
	router.HandleFunc("/login", authHandlers.Login).Methods(http.MethodPost)
	router.HandleFunc("/register", authHandlers.Register).Methods(http.MethodPost)

	// Community routes
	router.HandleFunc("/community", communityHandlers.ListCommunities).Methods(http.MethodGet)
	router.HandleFunc("/community", communityHandlers.CreateCommunity).Methods(http.MethodPost)
	router.HandleFunc("/community/{id:[0-9]+}/join", communityHandlers.JoinCommunity).Methods(http.MethodPost)
	router.HandleFunc("/community/{id:[0-9]+}/leave", communityHandlers.LeaveCommunity).Methods(http.MethodDelete)
	router.HandleFunc("/community/{id:[0-9]+}/members", communityHandlers.GetMembers).Methods(http.MethodGet)
	router.HandleFunc("/community/{id:[0-9]+}/active", communityHandlers.GetActiveUsers).Methods(http.MethodGet)
	router.HandleFunc("/community/{id:[0-9]+}", communityHandlers.DeleteCommunity).Methods(http.MethodDelete)

	// Chat routes
	router.HandleFunc("/chat/messages/{roomId:[0-9]+}", chatHandlers.GetMessages).Methods(http.MethodGet)
	router.HandleFunc("/chat/message", chatHandlers.PostMessage).Methods(http.MethodPost)
	router.HandleFunc("/chat/direct/{counterpart}", chatHandlers.GetDirectThread).Methods(http.MethodGet)
	router.HandleFunc("/chat/conversations", chatHandlers.GetConversations).Methods(http.MethodGet)

	// WebSocket route
	router.HandleFunc("/ws", wsHandlers.HandleWebSocket)
}
