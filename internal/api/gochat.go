package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/npezzotti/spark-chat/internal/config"
	"github.com/npezzotti/spark-chat/internal/database"
	"github.com/npezzotti/spark-chat/internal/messaging"
	"github.com/npezzotti/spark-chat/internal/server"
	"github.com/npezzotti/spark-chat/internal/stats"
	"github.com/npezzotti/spark-chat/internal/types"
)

// Messenger sends and deletes messages on behalf of an HTTP caller.
type Messenger interface {
	SendText(ctx context.Context, sender, receiver, body string) (database.Chat, error)
	SendMedia(ctx context.Context, sender, receiver string, m messaging.Media) (database.Chat, error)
	DeleteMessage(ctx context.Context, requester, chatId, messageId, receiver string) (types.MessageDeleted, error)
}

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	ChatServer *server.ChatServer
	Chats      database.ChatRepository
	Users      database.UserRepository
	Messenger  Messenger
	Stats      stats.StatsProvider
	// Health maps dependency names to their checks.
	Health map[string]Pinger
	// Media serves locally stored attachments. Optional.
	Media MediaHandler
}

// MediaHandler serves stored attachments under its prefix.
type MediaHandler interface {
	Handler() http.Handler
	URLPrefix() string
}

type App struct {
	log            *zap.SugaredLogger
	mux            *http.Server
	cs             *server.ChatServer
	chats          database.ChatRepository
	users          database.UserRepository
	messenger      Messenger
	stats          stats.StatsProvider
	health         map[string]Pinger
	signingKey     []byte
	allowedOrigins []string
	maxUploadBytes int64
}

func NewApp(mux *http.ServeMux, logger *zap.SugaredLogger, deps Deps, cfg *config.Config) *App {
	su := deps.Stats
	if su == nil {
		su = stats.NoopStats{}
	}

	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = messaging.DefaultMaxMediaBytes
	}

	s := &App{
		log:            logger,
		cs:             deps.ChatServer,
		chats:          deps.Chats,
		users:          deps.Users,
		messenger:      deps.Messenger,
		stats:          su,
		health:         deps.Health,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		maxUploadBytes: maxUpload,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("GET /api/chats", s.authMiddleware(s.listChats))
	mux.Handle("GET /api/chats/{otherUserId}", s.authMiddleware(s.getChat))
	mux.Handle("POST /api/chats/send", s.authMiddleware(s.sendMessage))
	mux.Handle("POST /api/chats/send-media", s.authMiddleware(s.sendMedia))
	mux.Handle("DELETE /api/chats/{conversationId}/messages/{messageId}", s.authMiddleware(s.deleteMessage))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	if deps.Media != nil {
		mux.Handle("GET "+deps.Media.URLPrefix()+"/", deps.Media.Handler())
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization", requestIdHeader}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	h = requestId(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *App) Start() error {
	s.log.Infow("starting server", "addr", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
