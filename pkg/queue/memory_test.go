package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/engine/pkg/queue"
)

func TestSendReceiveAccept(t *testing.T) {
	b := queue.NewBroker(4, 0)
	ctx := context.Background()

	require.NoError(t, b.Sender(queue.KindNextStep).Send(ctx, []byte("hello")))
	assert.Equal(t, 1, b.Depth(queue.KindNextStep))

	recv := b.Receiver(queue.KindNextStep)
	payload, handle, err := recv.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(payload))

	require.NoError(t, recv.Accept(ctx, handle))
}

func TestRedeliveryOnMissedAccept(t *testing.T) {
	b := queue.NewBroker(4, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, b.Sender(queue.KindActiveStep).Send(ctx, []byte("payload")))

	recv := b.Receiver(queue.KindActiveStep)
	payload, _, err := recv.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(payload))
	// Deliberately never Accept — simulating a crashed worker.

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	redelivered, handle2, err := recv.Receive(ctx2)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(redelivered))
	require.NoError(t, recv.Accept(ctx, handle2))
}

func TestAcceptedMessageIsNotRedelivered(t *testing.T) {
	b := queue.NewBroker(4, 15*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, b.Sender(queue.KindCompletedStep).Send(ctx, []byte("once")))
	recv := b.Receiver(queue.KindCompletedStep)

	payload, handle, err := recv.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "once", string(payload))
	require.NoError(t, recv.Accept(ctx, handle))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, b.Depth(queue.KindCompletedStep))
}
