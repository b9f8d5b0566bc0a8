package server

import (
	"context"
	"errors"

	"github.com/npezzotti/spark-chat/internal/database"
	"github.com/npezzotti/spark-chat/internal/messaging"
	"github.com/npezzotti/spark-chat/internal/stats"
	"github.com/npezzotti/spark-chat/internal/types"
)

var errEmptyPayload = errors.New("empty payload")

func (c *Client) dispatch(msg *ClientMessage) {
	if msg.Event == types.EventSetup {
		c.setup(msg)
		return
	}

	if !c.registered.Load() {
		c.queueMessage(ErrSetupRequired(msg.Id))
		return
	}

	cs := c.chatServer
	if cs.messages == nil || cs.calls == nil {
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	switch msg.Event {
	case types.EventJoinRoom:
		c.joinRoom(msg)
	case types.EventTyping, types.EventStopTyping:
		c.typing(msg)
	case types.EventNewMessage:
		c.newMessage(msg)
	case types.EventDeleteMessage:
		c.deleteMessage(msg)
	case types.EventCallUser:
		c.callUser(msg)
	case types.EventAnswerCall:
		c.answerCall(msg)
	case types.EventRejectCall:
		c.rejectCall(msg)
	case types.EventIceCandidate:
		c.iceCandidate(msg)
	case types.EventEndCall:
		c.endCall(msg)
	default:
		c.queueMessage(ErrUnknownEvent(msg.Id))
	}
}

// setup binds the connection to the authenticated user. A user id in the
// payload, when present, must match the token.
func (c *Client) setup(msg *ClientMessage) {
	var data SetupData
	if len(msg.Data) > 0 {
		if err := msg.decode(&data); err != nil {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
	}
	if data.UserId != "" && data.UserId != c.user.Id {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	if !c.registered.Load() {
		if !c.chatServer.requestRegister(c) {
			c.queueMessage(ErrServiceUnavailable(msg.Id))
			return
		}
		c.registered.Store(true)
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
	c.queueMessage(NewEvent(types.EventConnected, map[string]string{"userId": c.user.Id}))
}

func (c *Client) joinRoom(msg *ClientMessage) {
	var data RoomData
	if err := msg.decode(&data); err != nil || data.RoomId == "" {
		c.queueMessage(ErrBadRequest(msg.Id, "roomId is required"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	ok, err := c.chatServer.messages.CanJoin(ctx, c.user.Id, data.RoomId)
	if err != nil {
		c.log.Errorw("failed to check room access", "room_id", data.RoomId, "error", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}
	if !ok {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	c.chatServer.presence.join(data.RoomId, c)
	c.queueMessage(NoErrOK(msg.Id, map[string]string{"roomId": data.RoomId}))
}

// typing is relayed at most once and never acknowledged.
func (c *Client) typing(msg *ClientMessage) {
	var data RoomData
	if err := msg.decode(&data); err != nil || data.RoomId == "" {
		c.queueMessage(ErrBadRequest(msg.Id, "roomId is required"))
		return
	}

	if msg.Event == types.EventTyping {
		c.chatServer.messages.Typing(c.user.Id, data.RoomId)
	} else {
		c.chatServer.messages.StopTyping(c.user.Id, data.RoomId)
	}
}

func (c *Client) newMessage(msg *ClientMessage) {
	var data NewMessageData
	if err := msg.decode(&data); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	chat, err := c.chatServer.messages.SendText(ctx, c.user.Id, data.ReceiverId, data.Text)
	if err != nil {
		c.queueMessage(c.errorResponse(msg.Id, err))
		return
	}

	c.stats.Incr(stats.MessagesSent)
	c.queueMessage(NoErrOK(msg.Id, database.ToConversation(chat, nil)))
}

func (c *Client) deleteMessage(msg *ClientMessage) {
	var data DeleteMessageData
	if err := msg.decode(&data); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	deleted, err := c.chatServer.messages.DeleteMessage(ctx, c.user.Id, data.ConversationId, data.MessageId, data.ReceiverId)
	if err != nil {
		c.queueMessage(c.errorResponse(msg.Id, err))
		return
	}

	c.stats.Incr(stats.MessagesDeleted)
	c.queueMessage(NoErrOK(msg.Id, deleted))
}

func (c *Client) callUser(msg *ClientMessage) {
	var data CallUserData
	if err := msg.decode(&data); err != nil || data.CalleeId == "" {
		c.queueMessage(ErrBadRequest(msg.Id, "calleeId is required"))
		return
	}

	name := data.CallerName
	if name == "" {
		name = c.user.Name
	}

	s, ok := c.chatServer.calls.CallUser(c.user.Id, data.CalleeId, data.Offer, name)
	if !ok {
		c.queueMessage(NoErrOK(msg.Id, map[string]any{"delivered": false}))
		return
	}
	c.queueMessage(NoErrOK(msg.Id, map[string]any{"delivered": true, "callId": s.ID}))
}

func (c *Client) answerCall(msg *ClientMessage) {
	var data AnswerCallData
	if err := msg.decode(&data); err != nil || (data.CallId == "" && data.peer() == "") {
		c.queueMessage(ErrBadRequest(msg.Id, "callId or callerId is required"))
		return
	}

	c.chatServer.calls.AnswerCall(c.user.Id, data.peer(), data.CallId, data.Answer)
	c.queueMessage(NoErrAccepted(msg.Id))
}

func (c *Client) rejectCall(msg *ClientMessage) {
	var data RejectCallData
	if err := msg.decode(&data); err != nil || (data.CallId == "" && data.CallerId == "") {
		c.queueMessage(ErrBadRequest(msg.Id, "callId or callerId is required"))
		return
	}

	c.chatServer.calls.RejectCall(c.user.Id, data.CallerId, data.CallId)
	c.queueMessage(NoErrAccepted(msg.Id))
}

// iceCandidate is relayed without acknowledgement.
func (c *Client) iceCandidate(msg *ClientMessage) {
	var data IceCandidateData
	if err := msg.decode(&data); err != nil || data.TargetId == "" {
		c.queueMessage(ErrBadRequest(msg.Id, "targetId is required"))
		return
	}

	c.chatServer.calls.RelayCandidate(c.user.Id, data.TargetId, data.CallId, data.Candidate)
}

func (c *Client) endCall(msg *ClientMessage) {
	var data EndCallData
	if err := msg.decode(&data); err != nil || data.TargetId == "" {
		c.queueMessage(ErrBadRequest(msg.Id, "targetId is required"))
		return
	}

	c.chatServer.calls.EndCall(c.user.Id, data.TargetId, data.CallId)
	c.queueMessage(NoErrAccepted(msg.Id))
}

// errorResponse maps a handler error to a socket response. Storage
// failures are logged and reported generically.
func (c *Client) errorResponse(id int, err error) *ServerMessage {
	var ve *messaging.ValidationError
	switch {
	case errors.As(err, &ve):
		return ErrBadRequest(id, ve.Reason)
	case errors.Is(err, database.ErrNotFound):
		return ErrNotFound(id)
	case errors.Is(err, database.ErrForbidden):
		return ErrForbidden(id)
	default:
		c.log.Errorw("request failed", "request_id", id, "error", err)
		return ErrInternalError(id)
	}
}
