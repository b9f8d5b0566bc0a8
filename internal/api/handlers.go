package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/npezzotti/spark-chat/internal/database"
	"github.com/npezzotti/spark-chat/internal/messaging"
	"github.com/npezzotti/spark-chat/internal/server"
	"github.com/npezzotti/spark-chat/internal/stats"
	"github.com/npezzotti/spark-chat/internal/types"
)

const (
	healthTimeout = 2 * time.Second
	// room for the multipart envelope around the attachment
	multipartOverhead = 1 << 20
	multipartMemory   = 8 << 20
)

type SendMessageRequest struct {
	Text       string `json:"text"`
	ReceiverId string `json:"receiverId"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("json encode", "error", err)
	}
}

// writeError writes err in its HTTP form. Server errors are logged with
// their cause, which is never sent to the client.
func (s *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := toApiError(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Errorw("request failed",
			"request_id", RequestId(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.health[name].Ping(ctx); err != nil {
			s.log.Warnw("health check failed", "dependency", name, "error", err)
			errResp := NewServiceUnavailableError(fmt.Errorf("%s: %w", name, err))
			errResp.Message = name + " unavailable"
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// conversation resolves the members of chat for a response. Conversations
// are still returned when profiles cannot be loaded.
func (s *App) conversation(ctx context.Context, chat database.Chat) types.Conversation {
	members, err := s.chats.ResolveMembers(ctx, chat)
	if err != nil {
		s.log.Warnw("failed to resolve conversation members", "conversation_id", chat.Id, "error", err)
		members = nil
	}
	return database.ToConversation(chat, members)
}

func (s *App) listChats(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chats, err := s.chats.ListConversationsForUser(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	convs := make([]types.Conversation, 0, len(chats))
	for _, c := range chats {
		convs = append(convs, database.ToConversation(c.Chat, c.MemberSummaries))
	}

	s.writeJson(w, http.StatusOK, convs)
}

func (s *App) getChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	otherUserId := r.PathValue("otherUserId")
	if otherUserId == "" {
		errResp := NewValidationError("otherUserId is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if otherUserId == userId {
		errResp := NewValidationError("cannot open a conversation with yourself")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := s.chats.FindOrCreateConversation(r.Context(), userId, otherUserId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, s.conversation(r.Context(), chat))
}

func (s *App) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := s.messenger.SendText(r.Context(), userId, req.ReceiverId, req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.stats.Incr(stats.MessagesSent)
	s.writeJson(w, http.StatusOK, s.conversation(r.Context(), chat))
}

func (s *App) sendMedia(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errResp := NewRequestTooLargeError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		errResp := NewValidationError("multipart form is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("media")
	if err != nil {
		errResp := NewValidationError("media is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer file.Close()

	chat, err := s.messenger.SendMedia(r.Context(), userId, r.FormValue("receiverId"), messaging.Media{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.stats.Incr(stats.MessagesSent)
	s.writeJson(w, http.StatusOK, s.conversation(r.Context(), chat))
}

func (s *App) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	deleted, err := s.messenger.DeleteMessage(
		r.Context(),
		userId,
		r.PathValue("conversationId"),
		r.PathValue("messageId"),
		r.URL.Query().Get("receiverId"),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.stats.Incr(stats.MessagesDeleted)
	s.writeJson(w, http.StatusOK, deleted)
}

func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.users.GetUserById(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("error upgrading connection", "error", err)
		return
	}

	avatars := user.Avatars
	if avatars == nil {
		avatars = []string{}
	}
	client := server.NewClient(types.Member{
		Id:      user.Id,
		Name:    user.Name,
		Avatars: avatars,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
