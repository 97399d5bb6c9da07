package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/shoe-image-service/internal/notify"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

func TestPublisherNotify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	_, err = client.CreateTopic(ctx, "shoe-images")
	require.NoError(t, err)

	pub, err := NewWithClient(client, "shoe-images")
	require.NoError(t, err)
	pub.now = func() time.Time { return time.Unix(1700000000, 0) }
	t.Cleanup(func() { _ = pub.Close() })

	res := retrieval.Result{
		Query:        "Primus Lite",
		Key:          "primus-lite",
		Success:      true,
		Outcome:      retrieval.OutcomeSuccess,
		Source:       "bing-images",
		ArtifactPath: "primus-lite-0123abcd.jpg",
	}
	require.NoError(t, pub.Notify(ctx, res))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "success", msgs[0].Attributes["outcome"])
	assert.Equal(t, "primus-lite", msgs[0].Attributes["key"])

	var ev notify.Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &ev))
	assert.Equal(t, "primus-lite-0123abcd.jpg", ev.ArtifactPath)
	assert.Equal(t, "bing-images", ev.Source)
	assert.True(t, ev.Success)
}

func TestNewWithClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithClient(nil, "topic")
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}

func TestNilPublisher(t *testing.T) {
	t.Parallel()

	var p *Publisher
	require.Error(t, p.Notify(context.Background(), retrieval.Result{}))
	require.NoError(t, p.Close())
}
