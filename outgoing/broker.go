// Package outgoing fans CoT batches out to a FIFO broker, one queue per
// (connection, layer) pair.
package outgoing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/takstreams/errors"
)

// Message headers set on every published entry
const (
	HeaderMsgID   = "Nats-Msg-Id"
	HeaderGroupID = "Message-Group-Id"
)

// Entry is one broker message. GroupID keeps per-entity order within the stream.
type Entry struct {
	XML     string          `json:"xml"`
	GeoJSON json.RawMessage `json:"geojson"`
	GroupID string          `json:"-"`
}

// Target is where a Tasker's batches go
type Target struct {
	Connection int64
	Layer      int64
	Subject    string
}

// Broker sends a batch of at most BatchSize entries
type Broker interface {
	SendBatch(ctx context.Context, target Target, entries []Entry) error
}

// StreamPublisher is the JetStream surface the broker needs. natsclient.Client satisfies it.
type StreamPublisher interface {
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	PublishMsgToStream(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) error
}

// JetStreamBroker publishes entries to a JetStream stream
type JetStreamBroker struct {
	js       StreamPublisher
	stream   string
	subjects []string
}

// NewJetStreamBroker creates a broker on stream, which captures subjects
func NewJetStreamBroker(js StreamPublisher, stream string, subjects ...string) *JetStreamBroker {
	return &JetStreamBroker{js: js, stream: stream, subjects: subjects}
}

// EnsureStream creates or updates the backing stream
func (b *JetStreamBroker) EnsureStream(ctx context.Context) error {
	_, err := b.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:       b.stream,
		Subjects:   b.subjects,
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     24 * time.Hour,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return errors.WrapTransient(err, "JetStreamBroker", "EnsureStream", "create stream "+b.stream)
	}
	return nil
}

// SendBatch publishes entries in order. It stops at the first failure; earlier
// entries of the batch may already be stored.
func (b *JetStreamBroker) SendBatch(ctx context.Context, target Target, entries []Entry) error {
	for _, e := range entries {
		body, err := json.Marshal(e)
		if err != nil {
			return errors.WrapInvalid(err, "JetStreamBroker", "SendBatch", "encode entry")
		}

		msg := nats.NewMsg(target.Subject)
		msg.Data = body
		msg.Header.Set(HeaderMsgID, uuid.NewString())
		msg.Header.Set(HeaderGroupID, e.GroupID)

		if err := b.js.PublishMsgToStream(ctx, msg); err != nil {
			return errors.WrapTransient(err, "JetStreamBroker", "SendBatch", "publish to "+target.Subject)
		}
	}
	return nil
}
