package database

import (
	"slices"
	"strings"
	"time"

	"github.com/npezzotti/spark-chat/internal/types"
)

// Collection names shared by both storage engines. Matches and reports
// belong to the profile side of the application and are only created so
// the data directory has its full layout.
const (
	UsersCollection   = "users"
	ChatsCollection   = "chats"
	MatchesCollection = "matches"
	ReportsCollection = "reports"
)

var Collections = []string{UsersCollection, ChatsCollection, MatchesCollection, ReportsCollection}

type User struct {
	Id        string    `json:"_id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email" bson:"email"`
	Avatars   []string  `json:"avatars" bson:"avatars"`
	Online    bool      `json:"online" bson:"online"`
	LastSeen  time.Time `json:"last_seen" bson:"last_seen"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func (u *User) SetID(id string) {
	if u.Id == "" {
		u.Id = id
	}
}

func (u *User) SetDefaults(now time.Time) {
	if u.Avatars == nil {
		u.Avatars = []string{}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
}

type Message struct {
	Id        string            `json:"_id" bson:"_id"`
	SenderId  string            `json:"sender_id" bson:"sender_id"`
	Kind      types.MessageKind `json:"kind" bson:"kind"`
	Body      string            `json:"body" bson:"body"`
	MediaRef  string            `json:"media_ref,omitempty" bson:"media_ref,omitempty"`
	Seen      bool              `json:"seen" bson:"seen"`
	CreatedAt time.Time         `json:"created_at" bson:"created_at"`
}

type Chat struct {
	Id        string    `json:"_id" bson:"_id"`
	Members   []string  `json:"members" bson:"members"`
	PairKey   string    `json:"pair_key,omitempty" bson:"pair_key,omitempty"`
	Messages  []Message `json:"messages" bson:"messages"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func (c *Chat) SetID(id string) {
	if c.Id == "" {
		c.Id = id
	}
}

func (c *Chat) SetDefaults(now time.Time) {
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	if c.PairKey == "" && len(c.Members) == 2 {
		c.PairKey = PairKey(c.Members[0], c.Members[1])
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
}

// HasMember reports whether userId takes part in the conversation.
func (c Chat) HasMember(userId string) bool {
	return slices.Contains(c.Members, userId)
}

// OtherMember returns the member that is not userId, or "" if userId is
// not a member.
func (c Chat) OtherMember(userId string) string {
	if !c.HasMember(userId) {
		return ""
	}
	for _, m := range c.Members {
		if m != userId {
			return m
		}
	}
	return ""
}

// Message returns the message with the given id.
func (c Chat) Message(id string) (Message, bool) {
	for _, m := range c.Messages {
		if m.Id == id {
			return m, true
		}
	}
	return Message{}, false
}

// LastMessage returns the most recently appended message.
func (c Chat) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// PairKey identifies the unordered pair {a, b}.
func PairKey(a, b string) string {
	pair := []string{a, b}
	slices.Sort(pair)
	return strings.Join(pair, ":")
}

// MemberSummary is the public profile slice shown next to a conversation.
type MemberSummary struct {
	Id      string
	Name    string
	Avatars []string
}

const unknownMemberName = "Unknown member"

func UnknownMember(id string) MemberSummary {
	return MemberSummary{Id: id, Name: unknownMemberName, Avatars: []string{}}
}

// ChatWithMembers is a conversation with its members resolved.
type ChatWithMembers struct {
	Chat
	MemberSummaries []MemberSummary
}

func (c ChatWithMembers) activity() time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}
