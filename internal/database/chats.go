package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/teris-io/shortid"
	"go.uber.org/zap"

	"github.com/npezzotti/spark-chat/internal/store"
)

type StoreChatRepository struct {
	log   *zap.SugaredLogger
	chats store.Collection[Chat]
	users UserRepository
	// newMessageId is swapped in tests.
	newMessageId func() (string, error)
	now          func() time.Time
}

// NewChatRepository returns a repository over chats. It registers the
// unique pair_key constraint so that concurrent first contacts between
// the same two users converge on one conversation.
func NewChatRepository(ctx context.Context, logger *zap.SugaredLogger, chats store.Collection[Chat], users UserRepository) (*StoreChatRepository, error) {
	if err := chats.EnsureUnique(ctx, "pair_key"); err != nil {
		return nil, fmt.Errorf("ensure pair_key index: %w", err)
	}

	return &StoreChatRepository{
		log:          logger,
		chats:        chats,
		users:        users,
		newMessageId: shortid.Generate,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// FindOrCreateConversation returns the conversation between userA and
// userB, creating an empty one if none exists. When two callers race on
// the first contact the loser's insert hits the pair_key constraint and
// it reads back the winner's conversation instead.
func (r *StoreChatRepository) FindOrCreateConversation(ctx context.Context, userA, userB string) (Chat, error) {
	key := PairKey(userA, userB)

	chat, err := r.chats.FindOne(ctx, store.Where(store.Eq("pair_key", key)))
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Chat{}, fmt.Errorf("find conversation: %w", err)
	}

	chat, ok, err := r.findByMembers(ctx, userA, userB)
	if err != nil {
		return Chat{}, fmt.Errorf("find conversation: %w", err)
	}
	if ok {
		return r.backfillPairKey(ctx, chat, key), nil
	}

	chat, err = r.chats.Create(ctx, Chat{
		Members: []string{userA, userB},
		PairKey: key,
	})
	if errors.Is(err, store.ErrDuplicate) {
		r.log.Debugw("conversation created concurrently, reloading", "pair_key", key)
		chat, err = r.chats.FindOne(ctx, store.Where(store.Eq("pair_key", key)))
	}
	if err != nil {
		return Chat{}, fmt.Errorf("create conversation: %w", err)
	}

	return chat, nil
}

// findByMembers looks a conversation up by its member list. Chats
// written before pair_key existed are only reachable this way.
func (r *StoreChatRepository) findByMembers(ctx context.Context, userA, userB string) (Chat, bool, error) {
	found, err := r.chats.Find(ctx, store.Where(store.All("members", userA, userB)))
	if err != nil {
		return Chat{}, false, err
	}
	for _, c := range found {
		if len(c.Members) == 2 {
			return c, true, nil
		}
	}
	return Chat{}, false, nil
}

func (r *StoreChatRepository) backfillPairKey(ctx context.Context, chat Chat, key string) Chat {
	upd := store.NewUpdate().SetField("pair_key", key)
	updated, err := r.chats.UpdateByID(ctx, chat.Id, *upd)
	if err != nil {
		r.log.Warnw("backfill pair_key", "chat_id", chat.Id, "error", err)
		return chat
	}
	return updated
}

func (r *StoreChatRepository) GetConversation(ctx context.Context, chatId string) (Chat, error) {
	chat, err := r.chats.FindByID(ctx, chatId)
	if err != nil {
		return Chat{}, fmt.Errorf("get conversation %q: %w", chatId, err)
	}
	return chat, nil
}

// AppendMessage pushes msg onto the conversation log and bumps
// updated_at in a single storage call. The id and creation time are
// assigned here unless already set.
func (r *StoreChatRepository) AppendMessage(ctx context.Context, chatId string, msg Message) (Chat, error) {
	if msg.Id == "" {
		id, err := r.newMessageId()
		if err != nil {
			return Chat{}, fmt.Errorf("generate message id: %w", err)
		}
		msg.Id = id
	}

	now := r.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	upd := store.NewUpdate().
		PushField("messages", msg).
		SetField("updated_at", now)

	chat, err := r.chats.UpdateByID(ctx, chatId, *upd)
	if err != nil {
		return Chat{}, fmt.Errorf("append message to %q: %w", chatId, err)
	}
	return chat, nil
}

// DeleteMessage removes a message sent by requesterId. The pull is
// guarded by the sender id as well, so the authorization check holds
// even if the log changes between the read and the write.
func (r *StoreChatRepository) DeleteMessage(ctx context.Context, chatId, messageId, requesterId string) (Chat, error) {
	chat, err := r.chats.FindByID(ctx, chatId)
	if err != nil {
		return Chat{}, fmt.Errorf("get conversation %q: %w", chatId, err)
	}

	msg, ok := chat.Message(messageId)
	if !ok {
		return Chat{}, fmt.Errorf("message %q: %w", messageId, ErrNotFound)
	}

	if msg.SenderId != requesterId {
		return Chat{}, fmt.Errorf("delete message %q: %w", messageId, ErrForbidden)
	}

	upd := store.NewUpdate().
		PullWhere("messages", map[string]any{
			store.IDField: messageId,
			"sender_id":   requesterId,
		}).
		SetField("updated_at", r.now())

	chat, err = r.chats.UpdateByID(ctx, chatId, *upd)
	if err != nil {
		return Chat{}, fmt.Errorf("delete message %q: %w", messageId, err)
	}
	return chat, nil
}

// ListConversationsForUser returns the user's conversations, most
// recently active first.
func (r *StoreChatRepository) ListConversationsForUser(ctx context.Context, userId string) ([]ChatWithMembers, error) {
	chats, err := r.chats.Find(ctx, store.Where(store.All("members", userId)))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]ChatWithMembers, 0, len(chats))
	for _, c := range chats {
		members, err := r.ResolveMembers(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, ChatWithMembers{Chat: c, MemberSummaries: members})
	}

	slices.SortStableFunc(out, func(a, b ChatWithMembers) int {
		return b.activity().Compare(a.activity())
	})

	return out, nil
}

// ResolveMembers looks up the profile summary of each member. Unknown
// or deleted users are replaced by a placeholder; only storage failures
// are returned.
func (r *StoreChatRepository) ResolveMembers(ctx context.Context, chat Chat) ([]MemberSummary, error) {
	members := make([]MemberSummary, 0, len(chat.Members))
	for _, id := range chat.Members {
		u, err := r.users.GetUserById(ctx, id)
		if errors.Is(err, ErrNotFound) {
			members = append(members, UnknownMember(id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve member %q: %w", id, err)
		}

		avatars := u.Avatars
		if avatars == nil {
			avatars = []string{}
		}
		members = append(members, MemberSummary{Id: u.Id, Name: u.Name, Avatars: avatars})
	}
	return members, nil
}
