package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoErrOk(t *testing.T) {
	result := NoErrOK(1, map[string]any{
		"testkey": "testvalue",
	})

	assert.Equal(t, 1, result.Id, "expected ID to match")
	assert.Empty(t, result.Event, "expected responses to carry no event")
	require.NotNil(t, result.Response)
	assert.Equal(t, http.StatusOK, result.Response.ResponseCode, "expected response code to be 200")
	assert.Equal(t, map[string]any{"testkey": "testvalue"}, result.Response.Data, "expected response data to match")
	assert.WithinDuration(t, time.Now(), result.Timestamp, time.Second, "expected timestamp to be recent")
}

func TestErrorResponses(t *testing.T) {
	tcases := []struct {
		name   string
		msg    *ServerMessage
		code   int
		reason string
	}{
		{name: "accepted", msg: NoErrAccepted(1), code: http.StatusAccepted},
		{name: "bad request", msg: ErrBadRequest(1, "text is required"), code: http.StatusBadRequest, reason: "text is required"},
		{name: "not found", msg: ErrNotFound(1), code: http.StatusNotFound, reason: "not found"},
		{name: "forbidden", msg: ErrForbidden(1), code: http.StatusForbidden, reason: "forbidden"},
		{name: "setup required", msg: ErrSetupRequired(1), code: http.StatusUnauthorized, reason: "setup required"},
		{name: "too many requests", msg: ErrTooManyRequests(1), code: http.StatusTooManyRequests, reason: "too many requests"},
		{name: "unknown event", msg: ErrUnknownEvent(1), code: http.StatusBadRequest, reason: "unknown event"},
		{name: "internal", msg: ErrInternalError(1), code: http.StatusInternalServerError, reason: "internal server error"},
		{name: "unavailable", msg: ErrServiceUnavailable(1), code: http.StatusServiceUnavailable, reason: "service unavailable"},
		{name: "invalid", msg: ErrInvalidMessage(1), code: http.StatusBadRequest, reason: "invalid message format"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, 1, tc.msg.Id)
			require.NotNil(t, tc.msg.Response)
			assert.Equal(t, tc.code, tc.msg.Response.ResponseCode)
			assert.Equal(t, tc.reason, tc.msg.Response.Error)
		})
	}
}

func TestErrInvalidMessage_WithoutId(t *testing.T) {
	msg := ErrInvalidMessage(-1)
	assert.Equal(t, 0, msg.Id, "expected negative ids to be dropped")
}

func TestNewEvent(t *testing.T) {
	msg := NewEvent("typing", map[string]string{"roomId": "r1"})
	assert.Equal(t, "typing", msg.Event)
	assert.Nil(t, msg.Response)
	assert.Equal(t, map[string]string{"roomId": "r1"}, msg.Data)
}

func TestClientMessage_decode(t *testing.T) {
	msg := &ClientMessage{Data: []byte(`{"roomId":"abc"}`)}
	var data RoomData
	require.NoError(t, msg.decode(&data))
	assert.Equal(t, "abc", data.RoomId)

	empty := &ClientMessage{}
	assert.ErrorIs(t, empty.decode(&data), errEmptyPayload)

	bad := &ClientMessage{Data: []byte(`[1,2]`)}
	assert.Error(t, bad.decode(&data))
}

func TestNow(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location(), "expected UTC timestamps")
	assert.Equal(t, 0, now.Nanosecond()%int(time.Millisecond), "expected millisecond precision")
}
