package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) FindOrCreateConversation(ctx context.Context, userA, userB string) (Chat, error) {
	args := m.Called(ctx, userA, userB)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) GetConversation(ctx context.Context, chatId string) (Chat, error) {
	args := m.Called(ctx, chatId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) AppendMessage(ctx context.Context, chatId string, msg Message) (Chat, error) {
	args := m.Called(ctx, chatId, msg)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(ctx context.Context, chatId, messageId, requesterId string) (Chat, error) {
	args := m.Called(ctx, chatId, messageId, requesterId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) ListConversationsForUser(ctx context.Context, userId string) ([]ChatWithMembers, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]ChatWithMembers), args.Error(1)
}
func (m *MockChatRepository) ResolveMembers(ctx context.Context, chat Chat) ([]MemberSummary, error) {
	args := m.Called(ctx, chat)
	if members, ok := args.Get(0).([]MemberSummary); ok {
		return members, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetUserById(ctx context.Context, userId string) (User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockUserRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockUserRepository) UpdateUser(ctx context.Context, userId string, fields map[string]any) (User, error) {
	args := m.Called(ctx, userId, fields)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockUserRepository) SetOnline(ctx context.Context, userId string, online bool, at time.Time) error {
	args := m.Called(ctx, userId, online, at)
	return args.Error(0)
}
