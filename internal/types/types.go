package types

import (
	"encoding/json"
	"time"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
	KindVoice MessageKind = "voice"
	KindFile  MessageKind = "file"
)

type Member struct {
	Id      string   `json:"id"`
	Name    string   `json:"name"`
	Avatars []string `json:"avatars"`
}

type Message struct {
	Id        string      `json:"id"`
	SenderId  string      `json:"senderId"`
	Kind      MessageKind `json:"kind"`
	Body      string      `json:"body"`
	MediaRef  string      `json:"mediaRef,omitempty"`
	Seen      bool        `json:"seen"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Conversation struct {
	Id        string    `json:"id"`
	Members   []Member  `json:"members"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

type MessageReceived struct {
	ConversationId string  `json:"conversationId"`
	Message        Message `json:"message"`
}

type MessageDeleted struct {
	ConversationId string `json:"conversationId"`
	MessageId      string `json:"messageId"`
}

type Typing struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
}

// IncomingCall is delivered to the callee when a call starts ringing.
type IncomingCall struct {
	CallId     string          `json:"callId"`
	Offer      json.RawMessage `json:"offer"`
	CallerId   string          `json:"callerId"`
	CallerName string          `json:"callerName"`
}

type CallAccepted struct {
	CallId   string          `json:"callId"`
	CalleeId string          `json:"calleeId"`
	Answer   json.RawMessage `json:"answer"`
}

type CallRejected struct {
	CallId   string `json:"callId"`
	CalleeId string `json:"calleeId"`
}

type IceCandidate struct {
	CallId    string          `json:"callId"`
	FromId    string          `json:"fromId"`
	Candidate json.RawMessage `json:"candidate"`
}

type CallEnded struct {
	CallId string `json:"callId"`
	FromId string `json:"fromId"`
}
