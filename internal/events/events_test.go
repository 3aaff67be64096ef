package events

import (
	"context"
	"encoding/json"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafkago.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherPublish(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w}

	e := New(TypeIdentityLinked, "u1", map[string]string{"subject": "uid-1"})
	require.NoError(t, p.Publish(context.Background(), e))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, []byte("u1"), msg.Key)
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, []byte(TypeIdentityLinked), msg.Headers[0].Value)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "uid-1", got.Data["subject"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewAssignsIDs(t *testing.T) {
	a := New(TypeUserRegistered, "u1", nil)
	b := New(TypeUserRegistered, "u1", nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.OccurredAt.IsZero())
}
