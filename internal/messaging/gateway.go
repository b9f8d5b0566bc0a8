// Package messaging turns send and delete intents into chat log writes
// and fans the result out to connected recipients.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/npezzotti/spark-chat/internal/database"
	"github.com/npezzotti/spark-chat/internal/events"
	"github.com/npezzotti/spark-chat/internal/media"
	"github.com/npezzotti/spark-chat/internal/types"
)

// DefaultMaxMediaBytes bounds a single upload.
const DefaultMaxMediaBytes = 50 << 20

// Notifier delivers realtime events to connected users.
type Notifier interface {
	IsOnline(userId string) bool
	// EmitToUser sends to every connection of userId and returns how
	// many connections were reached.
	EmitToUser(userId, event string, payload any) int
	// EmitToRoom sends to every connection joined to roomId except
	// those belonging to skipUserId.
	EmitToRoom(roomId, event string, payload any, skipUserId string) int
}

// ValidationError is a client-fixable problem with a request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Media describes an uploaded attachment.
type Media struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Gateway struct {
	log           *zap.SugaredLogger
	chats         database.ChatRepository
	notifier      Notifier
	blobs         media.Store
	events        events.Publisher
	maxMediaBytes int64
}

func NewGateway(logger *zap.SugaredLogger, chats database.ChatRepository, notifier Notifier, blobs media.Store, publisher events.Publisher, maxMediaBytes int64) *Gateway {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if maxMediaBytes <= 0 {
		maxMediaBytes = DefaultMaxMediaBytes
	}

	return &Gateway{
		log:           logger,
		chats:         chats,
		notifier:      notifier,
		blobs:         blobs,
		events:        publisher,
		maxMediaBytes: maxMediaBytes,
	}
}

func validateParticipants(sender, receiver string) error {
	if receiver == "" {
		return invalid("receiverId is required")
	}
	if receiver == sender {
		return invalid("cannot send a message to yourself")
	}
	return nil
}

// SendText appends a text message to the conversation between sender
// and receiver and returns the updated conversation.
func (g *Gateway) SendText(ctx context.Context, sender, receiver, body string) (database.Chat, error) {
	if err := validateParticipants(sender, receiver); err != nil {
		return database.Chat{}, err
	}
	if strings.TrimSpace(body) == "" {
		return database.Chat{}, invalid("text is required")
	}

	return g.deliver(ctx, sender, receiver, database.Message{
		SenderId: sender,
		Kind:     types.KindText,
		Body:     body,
	})
}

// SendMedia stores the attachment and appends a message referencing it.
func (g *Gateway) SendMedia(ctx context.Context, sender, receiver string, m Media) (database.Chat, error) {
	if err := validateParticipants(sender, receiver); err != nil {
		return database.Chat{}, err
	}
	if m.Body == nil || m.Size <= 0 {
		return database.Chat{}, invalid("media is required")
	}
	if m.Size > g.maxMediaBytes {
		return database.Chat{}, invalid(fmt.Sprintf("media exceeds %d bytes", g.maxMediaBytes))
	}

	kind := Classify(m.ContentType)

	key, err := media.NewKey(sender, m.Filename)
	if err != nil {
		return database.Chat{}, err
	}

	contentType := m.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ref, err := g.blobs.Put(ctx, key, contentType, m.Body, m.Size)
	if err != nil {
		return database.Chat{}, fmt.Errorf("store media: %w", err)
	}

	return g.deliver(ctx, sender, receiver, database.Message{
		SenderId: sender,
		Kind:     kind,
		Body:     Caption(kind),
		MediaRef: ref,
	})
}

func (g *Gateway) deliver(ctx context.Context, sender, receiver string, msg database.Message) (database.Chat, error) {
	chat, err := g.chats.FindOrCreateConversation(ctx, sender, receiver)
	if err != nil {
		return database.Chat{}, err
	}

	chat, err = g.chats.AppendMessage(ctx, chat.Id, msg)
	if err != nil {
		return database.Chat{}, err
	}

	appended, ok := chat.LastMessage()
	if !ok {
		return database.Chat{}, fmt.Errorf("append message to %q: empty log after append", chat.Id)
	}

	if g.notifier.IsOnline(receiver) {
		n := g.notifier.EmitToUser(receiver, types.EventMessageReceived, types.MessageReceived{
			ConversationId: chat.Id,
			Message:        database.ToMessage(appended),
		})
		g.log.Debugw("message fanned out", "conversation_id", chat.Id, "receiver", receiver, "connections", n)
	}

	g.publish(ctx, events.Event{
		Type:           events.MessageSent,
		ConversationId: chat.Id,
		MessageId:      appended.Id,
		SenderId:       sender,
		ReceiverId:     receiver,
		Kind:           string(appended.Kind),
		OccurredAt:     appended.CreatedAt,
	})

	return chat, nil
}

// DeleteMessage removes a message sent by requester and tells the other
// member about it. When receiver is empty or not part of the
// conversation it is derived from the conversation members.
func (g *Gateway) DeleteMessage(ctx context.Context, requester, chatId, messageId, receiver string) (types.MessageDeleted, error) {
	if chatId == "" || messageId == "" {
		return types.MessageDeleted{}, invalid("conversationId and messageId are required")
	}

	chat, err := g.chats.DeleteMessage(ctx, chatId, messageId, requester)
	if err != nil {
		return types.MessageDeleted{}, err
	}

	if receiver == "" || receiver == requester || !chat.HasMember(receiver) {
		receiver = chat.OtherMember(requester)
	}

	deleted := types.MessageDeleted{ConversationId: chat.Id, MessageId: messageId}
	if receiver != "" && g.notifier.IsOnline(receiver) {
		g.notifier.EmitToUser(receiver, types.EventMessageDeleted, deleted)
	}

	g.publish(ctx, events.Event{
		Type:           events.MessageDeleted,
		ConversationId: chat.Id,
		MessageId:      messageId,
		SenderId:       requester,
		ReceiverId:     receiver,
		OccurredAt:     chat.UpdatedAt,
	})

	return deleted, nil
}

func (g *Gateway) publish(ctx context.Context, e events.Event) {
	if err := g.events.Publish(ctx, e); err != nil {
		g.log.Warnw("failed to publish event", "type", e.Type, "conversation_id", e.ConversationId, "error", err)
	}
}

// Typing relays a typing indicator to everyone else in roomId. Nothing is
// stored and the indicator is dropped when nobody is listening.
func (g *Gateway) Typing(from, roomId string) int {
	return g.notifier.EmitToRoom(roomId, types.EventTyping, types.Typing{RoomId: roomId, UserId: from}, from)
}

func (g *Gateway) StopTyping(from, roomId string) int {
	return g.notifier.EmitToRoom(roomId, types.EventStopTyping, types.Typing{RoomId: roomId, UserId: from}, from)
}

// CanJoin reports whether userId may join roomId: its own user room or a
// conversation it is a member of.
func (g *Gateway) CanJoin(ctx context.Context, userId, roomId string) (bool, error) {
	if roomId == "" {
		return false, nil
	}
	if roomId == userId {
		return true, nil
	}

	chat, err := g.chats.GetConversation(ctx, roomId)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return chat.HasMember(userId), nil
}
