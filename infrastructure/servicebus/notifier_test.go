package servicebus_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"intelliconn/infrastructure/servicebus"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error {
	args := m.Called(ctx, message, options)
	return args.Error(0)
}

func (m *MockSender) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestNotifier_Notify(t *testing.T) {
	sender := new(MockSender)
	var sent *azservicebus.Message
	sender.On("SendMessage", mock.Anything, mock.AnythingOfType("*azservicebus.Message"), (*azservicebus.SendMessageOptions)(nil)).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*azservicebus.Message) }).
		Return(nil)

	n := servicebus.NewNotifierWithSender(sender)
	require.NoError(t, n.Notify(context.Background(), "u1", "Reconnect Instagram", "insights permission was revoked"))

	require.NotNil(t, sent)
	assert.Equal(t, "Reconnect Instagram", *sent.Subject)
	assert.Equal(t, "u1", sent.ApplicationProperties["owner_id"])
	var body servicebus.Notification
	require.NoError(t, json.Unmarshal(sent.Body, &body))
	assert.Equal(t, "u1", body.OwnerID)
	assert.Equal(t, "insights permission was revoked", body.Body)
	assert.WithinDuration(t, time.Now(), body.SentAt, time.Minute)
	sender.AssertExpectations(t)
}

func TestNotifier_SendFailure(t *testing.T) {
	sender := new(MockSender)
	sender.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("amqp: link detached"))

	err := servicebus.NewNotifierWithSender(sender).Notify(context.Background(), "u1", "s", "b")
	assert.EqualError(t, err, "amqp: link detached")
}

func TestNotifier_Close(t *testing.T) {
	sender := new(MockSender)
	sender.On("Close", mock.Anything).Return(nil)
	require.NoError(t, servicebus.NewNotifierWithSender(sender).Close(context.Background()))
	sender.AssertExpectations(t)
}
