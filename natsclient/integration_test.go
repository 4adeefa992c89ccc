//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	tc := NewTestClient(t)

	received := make(chan string, 1)
	err := tc.Client.Subscribe(ctx, "test.subject", "", func(_ context.Context, msg *nats.Msg) {
		received <- string(msg.Data)
	})
	require.NoError(t, err)

	require.NoError(t, tc.Client.Publish(ctx, "test.subject", []byte("Hello NATS")))

	select {
	case msg := <-received:
		assert.Equal(t, "Hello NATS", msg)
	case <-time.After(time.Second):
		t.Fatal("Message not received")
	}
}

func TestIntegration_RequestReply(t *testing.T) {
	ctx := context.Background()
	tc := NewTestClient(t)

	err := tc.Client.Subscribe(ctx, "tak.echo", "bridge", func(_ context.Context, msg *nats.Msg) {
		_ = msg.Respond(append([]byte("echo:"), msg.Data...))
	})
	require.NoError(t, err)

	reply, err := tc.Client.Request(ctx, "tak.echo", []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(reply))
}

func TestIntegration_StreamWithHeaders(t *testing.T) {
	ctx := context.Background()
	tc := NewTestClient(t, WithJetStream())

	stream, err := tc.Client.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "TEST_OUTGOING",
		Subjects: []string{"outgoing.>"},
	})
	require.NoError(t, err)

	msg := nats.NewMsg("outgoing.7")
	msg.Header.Set("Message-Group-Id", "7-abc")
	msg.Data = []byte(`{"xml":"<event/>"}`)
	require.NoError(t, tc.Client.PublishMsgToStream(ctx, msg))

	raw, err := stream.GetLastMsgForSubject(ctx, "outgoing.7")
	require.NoError(t, err)
	assert.Equal(t, "7-abc", raw.Header.Get("Message-Group-Id"))
}

func TestIntegration_KVStore(t *testing.T) {
	ctx := context.Background()
	tc := NewTestClient(t, WithKVBuckets("features"))

	bucket, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "features"})
	require.NoError(t, err)
	kv := tc.Client.NewKVStore(bucket)

	_, err = kv.Put(ctx, "3.a", []byte("one"))
	require.NoError(t, err)
	_, err = kv.Put(ctx, "4.b", []byte("two"))
	require.NoError(t, err)

	entry, err := kv.Get(ctx, "3.a")
	require.NoError(t, err)
	assert.Equal(t, "one", string(entry.Value))

	keys, err := kv.Keys(ctx, "3.")
	require.NoError(t, err)
	assert.Equal(t, []string{"3.a"}, keys)

	_, err = kv.Get(ctx, "5.c")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)
}
