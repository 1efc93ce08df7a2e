package servicebus

import (
	"context"
	"encoding/json"
	"time"

	"intelliconn/infrastructure/logger"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// NewServiceBus connects to a namespace (e.g. "name.servicebus.windows.net")
// with the default Azure credential chain.
func NewServiceBus(ctx context.Context, namespace string) (*azservicebus.Client, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	return azservicebus.NewClient(namespace, cred, nil)
}

// MessageSender is the subset of *azservicebus.Sender the notifier needs.
type MessageSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// Notification is the queue payload consumed by the notification service.
type Notification struct {
	OwnerID string    `json:"ownerId"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sentAt"`
}

// Notifier delivers user-facing notifications through a Service Bus queue.
type Notifier struct {
	sender MessageSender
	now    func() time.Time
}

func NewNotifier(client *azservicebus.Client, queue string) (*Notifier, error) {
	sender, err := client.NewSender(queue, nil)
	if err != nil {
		logger.GetLogger().
			WithField("error", err).
			Error("Error while making new sender service bus.")
		return nil, err
	}
	return NewNotifierWithSender(sender), nil
}

func NewNotifierWithSender(sender MessageSender) *Notifier {
	return &Notifier{sender: sender, now: time.Now}
}

func (n *Notifier) Notify(ctx context.Context, ownerID, subject, body string) error {
	payload, err := json.Marshal(Notification{OwnerID: ownerID, Subject: subject, Body: body, SentAt: n.now().UTC()})
	if err != nil {
		return err
	}
	contentType := "application/json"
	msg := &azservicebus.Message{
		Body:                  payload,
		ContentType:           &contentType,
		Subject:               &subject,
		ApplicationProperties: map[string]interface{}{"owner_id": ownerID},
	}
	if err := n.sender.SendMessage(ctx, msg, nil); err != nil {
		logger.GetLogger().WithField("error", err).WithField("owner_id", ownerID).Error("Error while sending message.")
		return err
	}
	return nil
}

func (n *Notifier) Close(ctx context.Context) error {
	if err := n.sender.Close(ctx); err != nil {
		logger.GetLogger().
			WithField("error", err).
			Error("Error while closing sender.")
		return err
	}
	return nil
}
