// Package pubsub_test contains unit tests for the Pub/Sub publisher.
package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"

	gcpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/crawlops/crawlpilot/internal/publisher/pubsub"
	"github.com/crawlops/crawlpilot/internal/report"
)

func TestPublisherPublishAndClose(t *testing.T) {
	ctx := context.Background()

	// Create a fake Pub/Sub server.
	srv := pstest.NewServer()
	defer srv.Close()

	// Connect to the fake server.
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := gcpubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	topic, err := client.CreateTopic(ctx, "crawl-events")
	require.NoError(t, err)

	sub, err := client.CreateSubscription(ctx, "sub-id", gcpubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := pubsub.New(client, zap.NewNop())
	require.NoError(t, err)

	note := report.Notification{CrawlID: "night", Status: report.StatusSucceeded, ReportURI: "memory://r"}
	id, err := pub.Publish(ctx, "crawl-events", note)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Receive the message and check the payload round-trips.
	recvCtx, cancel := context.WithCancel(ctx)
	received := make(chan *gcpubsub.Message, 1)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *gcpubsub.Message) {
			msg.Ack()
			received <- msg
			cancel()
		})
	}()
	msg := <-received

	var decoded report.Notification
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "night", decoded.CrawlID)
	assert.Equal(t, report.StatusSucceeded, decoded.Status)

	assert.NoError(t, pub.Close())
}

func TestPublisherValidation(t *testing.T) {
	_, err := pubsub.New(nil, zap.NewNop())
	require.Error(t, err)
}

func TestPublishRequiresTopic(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := gcpubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	pub, err := pubsub.New(client, zap.NewNop())
	require.NoError(t, err)
	defer pub.Close() //nolint:errcheck // best-effort cleanup

	_, err = pub.Publish(ctx, "", "payload")
	require.Error(t, err)
}
