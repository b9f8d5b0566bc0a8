package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// ClientMessage is the envelope of every frame a client sends.
type ClientMessage struct {
	Id        int             `json:"id,omitempty"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"-"`
	client    *Client         `json:"-"`
}

// decode unmarshals the event payload into v.
func (m *ClientMessage) decode(v any) error {
	if len(m.Data) == 0 {
		return errEmptyPayload
	}
	return json.Unmarshal(m.Data, v)
}

type SetupData struct {
	UserId string `json:"userId"`
}

type RoomData struct {
	RoomId string `json:"roomId"`
}

type NewMessageData struct {
	ReceiverId string `json:"receiverId"`
	Text       string `json:"text"`
}

type DeleteMessageData struct {
	ConversationId string `json:"conversationId"`
	MessageId      string `json:"messageId"`
	ReceiverId     string `json:"receiverId"`
}

type CallUserData struct {
	CalleeId   string          `json:"calleeId"`
	Offer      json.RawMessage `json:"offer"`
	CallerName string          `json:"callerName"`
}

// AnswerCallData names the call by callId or by the peer the answer is
// routed to. Older clients send that peer as calleeId.
type AnswerCallData struct {
	CallId   string          `json:"callId"`
	CallerId string          `json:"callerId"`
	CalleeId string          `json:"calleeId"`
	Answer   json.RawMessage `json:"answer"`
}

func (d AnswerCallData) peer() string {
	if d.CallerId != "" {
		return d.CallerId
	}
	return d.CalleeId
}

type RejectCallData struct {
	CallId   string `json:"callId"`
	CallerId string `json:"callerId"`
}

type IceCandidateData struct {
	CallId    string          `json:"callId"`
	TargetId  string          `json:"targetId"`
	Candidate json.RawMessage `json:"candidate"`
}

type EndCallData struct {
	CallId   string `json:"callId"`
	TargetId string `json:"targetId"`
}

// ServerMessage is either a pushed event or the response to a client
// message with the same id.
type ServerMessage struct {
	Id        int       `json:"id,omitempty"`
	Event     string    `json:"event,omitempty"`
	Data      any       `json:"data,omitempty"`
	Response  *Response `json:"response,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func NewEvent(event string, data any) *ServerMessage {
	return &ServerMessage{
		Event:     event,
		Data:      data,
		Timestamp: Now(),
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return response(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int) *ServerMessage {
	return response(id, http.StatusAccepted, "", nil)
}

func ErrBadRequest(id int, reason string) *ServerMessage {
	return response(id, http.StatusBadRequest, reason, nil)
}

func ErrNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "not found", nil)
}

func ErrForbidden(id int) *ServerMessage {
	return response(id, http.StatusForbidden, "forbidden", nil)
}

func ErrSetupRequired(id int) *ServerMessage {
	return response(id, http.StatusUnauthorized, "setup required", nil)
}

func ErrTooManyRequests(id int) *ServerMessage {
	return response(id, http.StatusTooManyRequests, "too many requests", nil)
}

func ErrUnknownEvent(id int) *ServerMessage {
	return response(id, http.StatusBadRequest, "unknown event", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return response(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return response(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	if id < 0 {
		id = 0
	}
	return response(id, http.StatusBadRequest, "invalid message format", nil)
}

func response(id, code int, reason string, data any) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: code,
			Error:        reason,
			Data:         data,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
