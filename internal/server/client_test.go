package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/npezzotti/spark-chat/internal/database"
	"github.com/npezzotti/spark-chat/internal/messaging"
	"github.com/npezzotti/spark-chat/internal/signaling"
	"github.com/npezzotti/spark-chat/internal/stats"
	"github.com/npezzotti/spark-chat/internal/testutil"
	"github.com/npezzotti/spark-chat/internal/types"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		Id:        1,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: 200,
			Data:         "test data",
		},
	}

	expected := `{"id":1,"response":{"response_code":200,"data":"test data"},"timestamp":"` +
		message.Timestamp.Format(time.RFC3339Nano) + `"}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")

	event := NewEvent(types.EventTyping, types.Typing{RoomId: "r", UserId: "u"})
	bytes, err = serializeMessage(event)
	require.NoError(t, err)
	assert.Contains(t, string(bytes), `"event":"typing","data":{"roomId":"r","userId":"u"}`)
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected stopping twice to be safe")

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

type dispatchFixture struct {
	cs       *ChatServer
	client   *Client
	messages *mockMessageHandler
	calls    *mockCallHandler
}

// newDispatchFixture returns a registered client of user "u1" on a
// running chat server.
func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	users := &database.MockUserRepository{}
	users.On("SetOnline", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	cs := newTestChatServer(t, users, stats.NoopStats{})
	messages := &mockMessageHandler{}
	calls := &mockCallHandler{}
	calls.On("EndAllFor", mock.Anything).Return(0).Maybe()
	cs.SetHandlers(messages, calls)

	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	c := newTestClient(t, cs, "u1")
	c.dispatch(&ClientMessage{Id: 1, Event: types.EventSetup, Data: json.RawMessage(`{"userId":"u1"}`)})
	require.True(t, c.registered.Load())
	drain(c)

	return &dispatchFixture{cs: cs, client: c, messages: messages, calls: calls}
}

func (f *dispatchFixture) send(id int, event string, data string) []*ServerMessage {
	msg := &ClientMessage{Id: id, Event: event, client: f.client}
	if data != "" {
		msg.Data = json.RawMessage(data)
	}
	f.client.dispatch(msg)
	return drain(f.client)
}

func TestSetup(t *testing.T) {
	users := &database.MockUserRepository{}
	defer users.AssertExpectations(t)
	users.On("SetOnline", mock.Anything, "u1", true, mock.Anything).Return(nil).Once()
	users.On("SetOnline", mock.Anything, "u1", false, mock.Anything).Return(nil).Maybe()

	cs := newTestChatServer(t, users, stats.NoopStats{})
	cs.SetHandlers(&mockMessageHandler{}, &mockCallHandler{})
	go cs.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	}()

	c := newTestClient(t, cs, "u1")

	c.dispatch(&ClientMessage{Id: 1, Event: types.EventJoinRoom, Data: json.RawMessage(`{"roomId":"u1"}`)})
	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusUnauthorized, msgs[0].Response.ResponseCode, "expected events before setup to be refused")

	c.dispatch(&ClientMessage{Id: 2, Event: types.EventSetup, Data: json.RawMessage(`{"userId":"someone-else"}`)})
	msgs = drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusForbidden, msgs[0].Response.ResponseCode, "expected impersonation to be refused")
	assert.False(t, cs.IsOnline("someone-else"))

	c.dispatch(&ClientMessage{Id: 3, Event: types.EventSetup})
	msgs = drain(c)
	require.Len(t, msgs, 2)
	assert.Equal(t, 3, msgs[0].Id)
	assert.Equal(t, http.StatusOK, msgs[0].Response.ResponseCode)
	assert.Equal(t, types.EventConnected, msgs[1].Event)
	assert.True(t, cs.IsOnline("u1"))
	assert.True(t, cs.presence.inRoom("u1", c), "expected client to join its user room")

	c.dispatch(&ClientMessage{Id: 4, Event: types.EventSetup, Data: json.RawMessage(`{"userId":"u1"}`)})
	msgs = drain(c)
	require.Len(t, msgs, 2, "expected repeated setup to be acknowledged")
	assert.Equal(t, http.StatusOK, msgs[0].Response.ResponseCode)
}

func TestDispatch_UnknownEvent(t *testing.T) {
	f := newDispatchFixture(t)

	msgs := f.send(5, "dance", `{}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusBadRequest, msgs[0].Response.ResponseCode)
	assert.Equal(t, "unknown event", msgs[0].Response.Error)
}

func TestJoinRoom(t *testing.T) {
	f := newDispatchFixture(t)
	f.messages.On("CanJoin", mock.Anything, "u1", "chat-1").Return(true, nil).Once()
	f.messages.On("CanJoin", mock.Anything, "u1", "chat-2").Return(false, nil).Once()
	f.messages.On("CanJoin", mock.Anything, "u1", "chat-3").Return(false, errors.New("db down")).Once()
	defer f.messages.AssertExpectations(t)

	msgs := f.send(1, types.EventJoinRoom, `{"roomId":"chat-1"}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusOK, msgs[0].Response.ResponseCode)
	assert.True(t, f.cs.presence.inRoom("chat-1", f.client))

	msgs = f.send(2, types.EventJoinRoom, `{"roomId":"chat-2"}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusForbidden, msgs[0].Response.ResponseCode)
	assert.False(t, f.cs.presence.inRoom("chat-2", f.client))

	msgs = f.send(3, types.EventJoinRoom, `{"roomId":"chat-3"}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusInternalServerError, msgs[0].Response.ResponseCode)

	msgs = f.send(4, types.EventJoinRoom, ``)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusBadRequest, msgs[0].Response.ResponseCode)
}

func TestTypingRelay(t *testing.T) {
	f := newDispatchFixture(t)
	f.messages.On("Typing", "u1", "u2").Return(1).Once()
	f.messages.On("StopTyping", "u1", "u2").Return(0).Once()
	defer f.messages.AssertExpectations(t)

	assert.Empty(t, f.send(1, types.EventTyping, `{"roomId":"u2"}`), "expected typing not to be acknowledged")
	assert.Empty(t, f.send(2, types.EventStopTyping, `{"roomId":"u2"}`))

	msgs := f.send(3, types.EventTyping, `{}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusBadRequest, msgs[0].Response.ResponseCode)
}

func TestNewMessage(t *testing.T) {
	f := newDispatchFixture(t)
	defer f.messages.AssertExpectations(t)

	chat := database.Chat{
		Id:       "c1",
		Members:  []string{"u1", "u2"},
		Messages: []database.Message{{Id: "m1", SenderId: "u1", Kind: types.KindText, Body: "hi"}},
	}
	f.messages.On("SendText", mock.Anything, "u1", "u2", "hi").Return(chat, nil).Once()
	f.messages.On("SendText", mock.Anything, "u1", "u2", "").Return(database.Chat{}, &messaging.ValidationError{Reason: "text is required"}).Once()
	f.messages.On("SendText", mock.Anything, "u1", "u3", "x").Return(database.Chat{}, errors.New("disk full")).Once()

	msgs := f.send(1, types.EventNewMessage, `{"receiverId":"u2","text":"hi"}`)
	require.Len(t, msgs, 1)
	require.Equal(t, http.StatusOK, msgs[0].Response.ResponseCode)
	conv, ok := msgs[0].Response.Data.(types.Conversation)
	require.True(t, ok)
	assert.Equal(t, "c1", conv.Id)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "hi", conv.Messages[0].Body)

	msgs = f.send(2, types.EventNewMessage, `{"receiverId":"u2","text":""}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusBadRequest, msgs[0].Response.ResponseCode)
	assert.Equal(t, "text is required", msgs[0].Response.Error)

	msgs = f.send(3, types.EventNewMessage, `{"receiverId":"u3","text":"x"}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusInternalServerError, msgs[0].Response.ResponseCode)
	assert.Equal(t, "internal server error", msgs[0].Response.Error, "expected storage errors not to leak")

	msgs = f.send(4, types.EventNewMessage, `not json`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusBadRequest, msgs[0].Response.ResponseCode)
}

func TestDeleteMessageEvent(t *testing.T) {
	f := newDispatchFixture(t)
	defer f.messages.AssertExpectations(t)

	deleted := types.MessageDeleted{ConversationId: "c1", MessageId: "m1"}
	f.messages.On("DeleteMessage", mock.Anything, "u1", "c1", "m1", "u2").Return(deleted, nil).Once()
	f.messages.On("DeleteMessage", mock.Anything, "u1", "c1", "m2", "").Return(types.MessageDeleted{}, database.ErrForbidden).Once()
	f.messages.On("DeleteMessage", mock.Anything, "u1", "c1", "m3", "").Return(types.MessageDeleted{}, database.ErrNotFound).Once()

	msgs := f.send(1, types.EventDeleteMessage, `{"conversationId":"c1","messageId":"m1","receiverId":"u2"}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusOK, msgs[0].Response.ResponseCode)
	assert.Equal(t, deleted, msgs[0].Response.Data)

	msgs = f.send(2, types.EventDeleteMessage, `{"conversationId":"c1","messageId":"m2"}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusForbidden, msgs[0].Response.ResponseCode)

	msgs = f.send(3, types.EventDeleteMessage, `{"conversationId":"c1","messageId":"m3"}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusNotFound, msgs[0].Response.ResponseCode)
}

func TestCallEvents(t *testing.T) {
	f := newDispatchFixture(t)
	defer f.calls.AssertExpectations(t)

	offer := json.RawMessage(`{"sdp":"o"}`)
	answer := json.RawMessage(`{"sdp":"a"}`)
	cand := json.RawMessage(`{"candidate":"c"}`)

	f.calls.On("CallUser", "u1", "u2", offer, "name-u1").Return(signaling.Session{ID: "call-1"}, true).Once()
	f.calls.On("CallUser", "u1", "u3", offer, "Nick").Return(signaling.Session{}, false).Once()
	f.calls.On("AnswerCall", "u1", "u2", "call-9", answer).Return(true).Once()
	f.calls.On("RejectCall", "u1", "u2", "").Return(false).Once()
	f.calls.On("RelayCandidate", "u1", "u2", "call-1", cand).Return(true).Once()
	f.calls.On("EndCall", "u1", "u2", "call-1").Return(1).Once()

	msgs := f.send(1, types.EventCallUser, `{"calleeId":"u2","offer":{"sdp":"o"}}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]any{"delivered": true, "callId": "call-1"}, msgs[0].Response.Data)

	msgs = f.send(2, types.EventCallUser, `{"calleeId":"u3","offer":{"sdp":"o"},"callerName":"Nick"}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusOK, msgs[0].Response.ResponseCode, "expected dropped calls not to be errors")
	assert.Equal(t, map[string]any{"delivered": false}, msgs[0].Response.Data)

	msgs = f.send(3, types.EventAnswerCall, `{"callId":"call-9","callerId":"u2","answer":{"sdp":"a"}}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusAccepted, msgs[0].Response.ResponseCode)

	msgs = f.send(4, types.EventRejectCall, `{"callerId":"u2"}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusAccepted, msgs[0].Response.ResponseCode)

	assert.Empty(t, f.send(5, types.EventIceCandidate, `{"callId":"call-1","targetId":"u2","candidate":{"candidate":"c"}}`))

	msgs = f.send(6, types.EventEndCall, `{"callId":"call-1","targetId":"u2"}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusAccepted, msgs[0].Response.ResponseCode)

	for _, tc := range []struct {
		event string
		data  string
	}{
		{types.EventCallUser, `{"offer":{}}`},
		{types.EventAnswerCall, `{"answer":{}}`},
		{types.EventRejectCall, `{}`},
		{types.EventIceCandidate, `{"candidate":{}}`},
		{types.EventEndCall, `{}`},
	} {
		msgs = f.send(7, tc.event, tc.data)
		require.Len(t, msgs, 1, tc.event)
		assert.Equal(t, http.StatusBadRequest, msgs[0].Response.ResponseCode, tc.event)
	}
}

func TestAnswerCall_PeerAsCalleeId(t *testing.T) {
	f := newDispatchFixture(t)
	defer f.calls.AssertExpectations(t)

	answer := json.RawMessage(`{"sdp":"a"}`)
	f.calls.On("AnswerCall", "u1", "u2", "", answer).Return(true).Once()

	msgs := f.send(1, types.EventAnswerCall, `{"answer":{"sdp":"a"},"calleeId":"u2"}`)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusAccepted, msgs[0].Response.ResponseCode)
}

func TestDispatch_HandlersNotSet(t *testing.T) {
	cs := newTestChatServer(t, &database.MockUserRepository{}, stats.NoopStats{})
	c := newTestClient(t, cs, "u1")
	c.registered.Store(true)

	c.dispatch(&ClientMessage{Id: 1, Event: types.EventNewMessage, Data: json.RawMessage(`{}`)})
	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusServiceUnavailable, msgs[0].Response.ResponseCode)
}

func TestClientRateLimit(t *testing.T) {
	cs := newTestChatServer(t, &database.MockUserRepository{}, stats.NoopStats{})
	c := newTestClient(t, cs, "u1")
	c.limiter = rate.NewLimiter(rate.Every(time.Hour), 2)

	assert.True(t, c.limiter.Allow())
	assert.True(t, c.limiter.Allow())
	assert.False(t, c.limiter.Allow(), "expected burst to be exhausted")
}
