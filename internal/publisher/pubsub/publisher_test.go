package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishCarriesChannelAttribute(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "realtime")
	require.NoError(t, err)

	pub := New(topic)
	id, err := pub.Publish(ctx, "mediabot:mention:new", map[string]string{"id": "m1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Stop())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "mediabot:mention:new", msgs[0].Attributes[ChannelAttribute])
	var got map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "m1", got["id"])
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()
	_, err := New(nil).Publish(context.Background(), "x", "y")
	require.Error(t, err)
}
