package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/avelkov/concierge-server/internal/auth"
	"github.com/avelkov/concierge-server/internal/config"
	"github.com/avelkov/concierge-server/internal/core"
	"github.com/avelkov/concierge-server/internal/presence"
	"github.com/avelkov/concierge-server/internal/store"
)

// NewServer builds the HTTP server with REST and WebSocket routes.
func NewServer(chat *core.ChatService, authService *auth.Service, st store.Store, tracker presence.Tracker, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(chat, authService, st, tracker, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts the gin REST router and the WebSocket endpoint on one
// stdlib mux. The WebSocket route stays outside gin because websocket.Accept
// must hijack the raw ResponseWriter. Split from NewServer so tests can mount
// it on httptest.
func NewHandler(chat *core.ChatService, authService *auth.Service, st store.Store, tracker presence.Tracker, cfg config.Config, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle(WSPathPrefix, NewWSHandler(chat, authService, tracker, cfg.IdleTimeout, cfg.SendBuffer, logger))
	mux.Handle("/", newRouter(chat, authService, st, tracker, cfg, logger))
	return mux
}

func newRouter(chat *core.ChatService, authService *auth.Service, st store.Store, tracker presence.Tracker, cfg config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	apiHandlers := NewAPIHandlers(authService, logger)
	requestHandlers := NewRequestHandlers(st, chat, logger)
	conversationHandlers := NewConversationHandlers(st, chat, tracker, cfg.HistoryPageLimit, logger)

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	router.POST("/api/register", apiHandlers.Register)
	router.POST("/api/login", apiHandlers.Login)

	authorized := router.Group("/api/v1")
	authorized.Use(AuthMiddleware(authService, logger))
	{
		authorized.POST("/requests", requestHandlers.SubmitRequest)
		authorized.GET("/requests", requestHandlers.ListRequests)
		authorized.PATCH("/requests/:id/status", requestHandlers.UpdateStatus)

		authorized.GET("/conversations", conversationHandlers.ListConversations)
		authorized.GET("/conversations/:id", conversationHandlers.GetConversation)
		authorized.GET("/conversations/:id/messages", conversationHandlers.History)
		authorized.POST("/conversations/:id/messages", conversationHandlers.SendMessage)
		authorized.GET("/conversations/:id/presence", conversationHandlers.Presence)
	}

	return router
}
