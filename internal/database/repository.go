package database

import (
	"context"
	"errors"
	"time"

	"github.com/npezzotti/spark-chat/internal/store"
)

var (
	ErrNotFound  = store.ErrNotFound
	ErrForbidden = errors.New("forbidden")
)

type ChatRepository interface {
	FindOrCreateConversation(ctx context.Context, userA, userB string) (Chat, error)
	GetConversation(ctx context.Context, chatId string) (Chat, error)
	AppendMessage(ctx context.Context, chatId string, msg Message) (Chat, error)
	DeleteMessage(ctx context.Context, chatId, messageId, requesterId string) (Chat, error)
	ListConversationsForUser(ctx context.Context, userId string) ([]ChatWithMembers, error)
	ResolveMembers(ctx context.Context, chat Chat) ([]MemberSummary, error)
}

type UserRepository interface {
	GetUserById(ctx context.Context, userId string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UpdateUser(ctx context.Context, userId string, fields map[string]any) (User, error)
	SetOnline(ctx context.Context, userId string, online bool, at time.Time) error
}
