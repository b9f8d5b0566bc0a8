package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/spark-chat/internal/testutil"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

func TestNewKafkaPublisher(t *testing.T) {
	_, err := NewKafkaPublisher(testutil.TestLogger(t), nil, "chat-events")
	assert.Error(t, err, "expected error without brokers")

	_, err = NewKafkaPublisher(testutil.TestLogger(t), []string{"localhost:9092"}, "")
	assert.Error(t, err, "expected error without topic")

	p, err := NewKafkaPublisher(testutil.TestLogger(t), []string{"localhost:9092"}, "chat-events")
	require.NoError(t, err)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "chat-events", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &mockWriter{}
	defer w.AssertExpectations(t)

	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	e := Event{
		Type:           MessageSent,
		ConversationId: "c1",
		MessageId:      "m1",
		SenderId:       "u1",
		ReceiverId:     "u2",
		Kind:           "text",
		OccurredAt:     at,
	}

	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 {
			return false
		}
		var got Event
		if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
			return false
		}
		return string(msgs[0].Key) == "c1" &&
			msgs[0].Time.Equal(at) &&
			got.Type == MessageSent &&
			got.MessageId == "m1" &&
			string(msgs[0].Headers[0].Value) == string(MessageSent)
	})).Return(nil).Once()

	p := &KafkaPublisher{log: testutil.TestLogger(t), writer: w}
	assert.NoError(t, p.Publish(context.Background(), e))
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	p := &KafkaPublisher{log: testutil.TestLogger(t), writer: w}
	err := p.Publish(context.Background(), Event{Type: MessageDeleted, ConversationId: "c1"})
	assert.ErrorContains(t, err, "broker down")
}

func Test_toMessageDefaultsTime(t *testing.T) {
	msg, err := toMessage(Event{Type: MessageDeleted, ConversationId: "c9"})
	require.NoError(t, err)
	assert.False(t, msg.Time.IsZero(), "expected occurred time to be filled")
	assert.Equal(t, []byte("c9"), msg.Key)
}
