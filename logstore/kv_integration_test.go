//go:build integration

package logstore

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/takstreams/natsclient"
)

func TestKVStore_Integration(t *testing.T) {
	ctx := context.Background()
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())

	bucket, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "FEATURE_LOG"})
	require.NoError(t, err)
	store := NewKVStore(tc.Client.NewKVStore(bucket))

	q, err := NewQueue(store)
	require.NoError(t, err)
	q.Queue(items(4, 30))
	require.NoError(t, q.Flush(ctx))

	keys, err := store.Layer(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, keys, 30)

	got, err := store.Get(ctx, 4, "f-7")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Layer)
	assert.Equal(t, "Feature", got.Type)
}
