package notifier_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"boutique/internal/models"
	"boutique/internal/notifier"

	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, body []byte) error {
	args := m.Called(ctx, body)
	return args.Error(0)
}

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Dispatch(ctx context.Context, msg models.PushMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

var push = models.PushMessage{
	NotificationID: "n-1",
	UserID:         "u-1",
	Title:          "Order confirmed",
	Body:           "Your order #o-1 has been confirmed.",
	URL:            "/account/orders/o-1",
	Type:           models.NotificationOrder,
}

func TestAMQPDispatcher_PublishesJSON(t *testing.T) {
	pub := new(MockPublisher)
	d := notifier.NewAMQPDispatcher(pub)

	pub.On("Publish", mock.Anything, mock.MatchedBy(func(body []byte) bool {
		var got models.PushMessage
		return json.Unmarshal(body, &got) == nil && got == push
	})).Return(nil).Once()

	assert.NoError(t, d.Dispatch(context.Background(), push))
	assert.Equal(t, "amqp", d.Name())
	pub.AssertExpectations(t)
}

func TestAMQPDispatcher_WrapsPublishError(t *testing.T) {
	pub := new(MockPublisher)
	d := notifier.NewAMQPDispatcher(pub)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("channel closed")).Once()

	err := d.Dispatch(context.Background(), push)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestKafkaDispatcher_KeysByUser(t *testing.T) {
	w := new(MockWriter)
	d := notifier.NewKafkaDispatcher(w)

	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 && string(msgs[0].Key) == "u-1" && len(msgs[0].Headers) == 2
	})).Return(nil).Once()
	w.On("Close").Return(nil).Once()

	assert.NoError(t, d.Dispatch(context.Background(), push))
	assert.NoError(t, d.Close())
	assert.Equal(t, "kafka", d.Name())
	w.AssertExpectations(t)
}

func TestKafkaDispatcher_WrapsWriteError(t *testing.T) {
	w := new(MockWriter)
	d := notifier.NewKafkaDispatcher(w)
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("leader not available")).Once()

	err := d.Dispatch(context.Background(), push)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "kafka")
}

func TestNewKafkaWriter(t *testing.T) {
	w := notifier.NewKafkaWriter([]string{"localhost:9092"}, "push.notifications")
	assert.Equal(t, "push.notifications", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestLogDispatcher(t *testing.T) {
	d := notifier.LogDispatcher{}
	assert.NoError(t, d.Dispatch(context.Background(), push))
	assert.Equal(t, "log", d.Name())
}

func TestPushWorker_ForwardsDecodedPush(t *testing.T) {
	gw := new(MockGateway)
	w := notifier.NewPushWorker(gw, time.Second)
	body, err := json.Marshal(push)
	require.NoError(t, err)

	gw.On("Dispatch", mock.Anything, push).Return(nil).Once()

	assert.NoError(t, w.Handle(amqp.Delivery{Body: body}))
	gw.AssertExpectations(t)
}

func TestPushWorker_RejectsBadPayloads(t *testing.T) {
	gw := new(MockGateway)
	w := notifier.NewPushWorker(gw, time.Second)

	assert.Error(t, w.Handle(amqp.Delivery{Body: []byte("not json")}))
	assert.Error(t, w.Handle(amqp.Delivery{Body: []byte(`{"title":"no user"}`)}))
	gw.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}
