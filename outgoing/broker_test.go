package outgoing

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/takstreams/errors"
)

type fakePublisher struct {
	streams []jetstream.StreamConfig
	msgs    []*nats.Msg
	failAt  int
}

func (p *fakePublisher) CreateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	p.streams = append(p.streams, cfg)
	return nil, nil
}

func (p *fakePublisher) PublishMsgToStream(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) error {
	if p.failAt > 0 && len(p.msgs)+1 == p.failAt {
		return stderrors.New("nats: timeout")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestJetStreamBroker_SendBatch(t *testing.T) {
	pub := &fakePublisher{}
	b := NewJetStreamBroker(pub, "TAK_OUTGOING", "tak.outgoing.>")

	require.NoError(t, b.EnsureStream(context.Background()))
	require.Len(t, pub.streams, 1)
	assert.Equal(t, "TAK_OUTGOING", pub.streams[0].Name)
	assert.Equal(t, []string{"tak.outgoing.>"}, pub.streams[0].Subjects)

	entries := []Entry{
		{XML: "<event uid=\"a\"/>", GeoJSON: json.RawMessage(`{"id":"a"}`), GroupID: "3-a"},
		{XML: "<event uid=\"b\"/>", GeoJSON: json.RawMessage(`{"id":"b"}`), GroupID: "3-b"},
	}
	err := b.SendBatch(context.Background(), Target{Layer: 3, Subject: "tak.outgoing.3"}, entries)
	require.NoError(t, err)

	require.Len(t, pub.msgs, 2)
	msg := pub.msgs[0]
	assert.Equal(t, "tak.outgoing.3", msg.Subject)
	assert.Equal(t, "3-a", msg.Header.Get(HeaderGroupID))
	assert.NotEmpty(t, msg.Header.Get(HeaderMsgID))
	assert.NotEqual(t, msg.Header.Get(HeaderMsgID), pub.msgs[1].Header.Get(HeaderMsgID))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, "<event uid=\"a\"/>", body["xml"])
	assert.Equal(t, map[string]any{"id": "a"}, body["geojson"])
	assert.NotContains(t, body, "GroupID")
}

func TestJetStreamBroker_StopsAtFailure(t *testing.T) {
	pub := &fakePublisher{failAt: 2}
	b := NewJetStreamBroker(pub, "S", "s.>")

	err := b.SendBatch(context.Background(), Target{Subject: "s.1"}, []Entry{
		{XML: "1", GeoJSON: json.RawMessage(`{}`)},
		{XML: "2", GeoJSON: json.RawMessage(`{}`)},
		{XML: "3", GeoJSON: json.RawMessage(`{}`)},
	})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Len(t, pub.msgs, 1)
}
