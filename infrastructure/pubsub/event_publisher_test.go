package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"intelliconn/domain/dto"
	"intelliconn/infrastructure/pubsub"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*gpubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := gpubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestEventPublisher_PublishesAllowedTypes(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	pub := pubsub.NewEventPublisher(client, "publish-results", dto.EventPublishResult)
	require.NoError(t, pub.EnsureTopic(ctx))
	defer pub.Stop()

	result := dto.PublishResult{PostID: "p1", OwnerID: "u1", Status: "published"}
	require.NoError(t, pub.Publish(ctx, dto.Event{Type: dto.EventPublishResult, OwnerID: "u1", Payload: result, At: time.Now()}))
	require.NoError(t, pub.Publish(ctx, dto.Event{Type: dto.EventAnalyticsSnapshot, OwnerID: "u1"}))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, dto.EventPublishResult, msgs[0].Attributes["type"])
	assert.Equal(t, "u1", msgs[0].Attributes["owner_id"])

	var got struct {
		Type    string            `json:"type"`
		Payload dto.PublishResult `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "p1", got.Payload.PostID)
}

func TestEventPublisher_EnsureTopicIsIdempotent(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	pub := pubsub.NewEventPublisher(client, "publish-results")
	require.NoError(t, pub.EnsureTopic(ctx))
	require.NoError(t, pub.EnsureTopic(ctx))
	pub.Stop()
}
