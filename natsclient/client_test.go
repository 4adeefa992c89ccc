package natsclient

import (
	"context"
	"crypto/tls"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithName("takstreams-test"),
	)
	require.NoError(t, err)

	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, backoffOf(client))
	assert.Equal(t, int32(0), client.Failures())
	assert.False(t, client.IsHealthy())
}

func backoffOf(c *Client) time.Duration {
	return c.backoff.Load().(time.Duration)
}

func TestBuildConnectionOptions(t *testing.T) {
	plain, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	secured, err := NewClient("nats://localhost:4222",
		WithToken("secret"),
		WithName("takstreams-test"),
		WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	require.NoError(t, err)

	var opts nats.Options
	for _, o := range secured.buildConnectionOptions() {
		require.NoError(t, o(&opts))
	}
	assert.True(t, opts.Secure)
	assert.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "secret", opts.Token)
	assert.Equal(t, "takstreams-test", opts.Name)

	// one option each for token, name and TLS
	assert.Len(t, secured.buildConnectionOptions(), len(plain.buildConnectionOptions())+3)
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens at threshold", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(3))
		require.NoError(t, err)

		client.recordFailure()
		client.recordFailure()
		assert.NotEqual(t, StatusCircuitOpen, client.Status())

		client.recordFailure()
		assert.Equal(t, StatusCircuitOpen, client.Status())
		assert.Equal(t, 2*time.Second, backoffOf(client))
		assert.Equal(t, int32(3), client.Failures())
	})

	t.Run("backoff is capped", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
		require.NoError(t, err)

		for i := 0; i < 8; i++ {
			client.recordFailure()
		}
		assert.Equal(t, time.Minute, backoffOf(client))
	})

	t.Run("reset closes circuit", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
		require.NoError(t, err)

		client.recordFailure()
		require.Equal(t, StatusCircuitOpen, client.Status())

		client.resetCircuit()
		assert.Equal(t, StatusDisconnected, client.Status())
		assert.Equal(t, time.Second, backoffOf(client))
		assert.Equal(t, int32(0), client.Failures())
	})

	t.Run("connect refused while open", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
		require.NoError(t, err)

		client.recordFailure()
		err = client.Connect(context.Background())
		assert.ErrorIs(t, err, ErrCircuitOpen)
	})

	t.Run("test circuit half-opens", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		client.setStatus(StatusCircuitOpen)
		client.testCircuit()
		assert.Equal(t, StatusDisconnected, client.Status())
	})
}

func TestConcurrentSafety(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	const iterations = 100

	wg.Add(4)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.setStatus(StatusConnected)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			_ = client.Status()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.recordFailure()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.resetCircuit()
		}
	}()
	wg.Wait()

	assert.Contains(t, []ConnectionStatus{
		StatusDisconnected,
		StatusConnecting,
		StatusConnected,
		StatusReconnecting,
		StatusCircuitOpen,
	}, client.Status())
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out when not connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("returns when becomes connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.NoError(t, client.WaitForConnection(ctx))
	})
}

func TestOperations_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "tak.test", []byte("x")), ErrNotConnected)

	_, err = client.Request(ctx, "tak.test", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)

	err = client.Subscribe(ctx, "tak.test", "", func(context.Context, *nats.Msg) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.CreateStream(ctx, jetstream.StreamConfig{Name: "X"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "x"})
	assert.ErrorIs(t, err, ErrNotConnected)

	err = client.PublishMsgToStream(ctx, nats.NewMsg("tak.test"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCredentials("user", "pass"))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.username)
	assert.Empty(t, client.password)
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.False(t, isAlreadyExistsError(assert.AnError))
	assert.True(t, isAlreadyExistsError(jetstream.ErrStreamNameAlreadyInUse))
}
