package rabbitmq

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (f *fakeAck) Ack(bool) error {
	f.acked++
	return nil
}

func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked++
	f.requeue = requeue
	return nil
}

func TestEncodeDecode(t *testing.T) {
	body, err := encode(DispatchMessage{RunID: "01HX"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"run_id":"01HX"}`, string(body))

	msg, err := decode(body)
	require.NoError(t, err)
	assert.Equal(t, "01HX", msg.RunID)

	_, err = decode([]byte(`{}`))
	assert.Error(t, err)
	_, err = decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestProcessAcksHandledMessages(t *testing.T) {
	ack := &fakeAck{}
	var got string
	process(context.Background(), delivery{body: []byte(`{"run_id":"r1"}`), ack: ack}, func(_ context.Context, msg DispatchMessage) error {
		got = msg.RunID
		return nil
	})
	assert.Equal(t, "r1", got)
	assert.Equal(t, 1, ack.acked)
	assert.Zero(t, ack.nacked)
}

func TestProcessAcksFailedHandler(t *testing.T) {
	ack := &fakeAck{}
	process(context.Background(), delivery{body: []byte(`{"run_id":"r1"}`), ack: ack}, func(context.Context, DispatchMessage) error {
		return errors.New("db down")
	})
	assert.Equal(t, 1, ack.acked)
}

func TestProcessDeadLettersMalformed(t *testing.T) {
	ack := &fakeAck{}
	called := false
	process(context.Background(), delivery{body: []byte(`garbage`), ack: ack}, func(context.Context, DispatchMessage) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)
}
