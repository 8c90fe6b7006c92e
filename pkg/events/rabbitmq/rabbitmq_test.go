package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/events"
)

func TestPublishAndConsume(t *testing.T) {
	url := os.Getenv("RABBITMQ_TEST_URL")
	if url == "" {
		t.Skip("RABBITMQ_TEST_URL not set")
	}
	ctx := context.Background()
	exchange := "test_events_" + uuid.NewString()
	queue := "test_queue_" + uuid.NewString()

	broker, err := NewBroker(url, exchange, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer broker.Close()

	require.NoError(t, broker.DeclareQueue(queue, "session.*"))
	size, err := broker.QueueSize(queue)
	require.NoError(t, err)
	assert.Zero(t, size)

	created := events.New(events.TypeSessionCreated, 1, 7, time.Now())
	require.NoError(t, broker.Publish(ctx, created))
	require.NoError(t, broker.Publish(ctx, events.New(events.TypeExecutionRecorded, 1, 7, time.Now())))

	var got *events.Event
	require.Eventually(t, func() bool {
		ev, ack, err := broker.Next(ctx, queue)
		if err != nil || ev == nil {
			return false
		}
		got = ev
		return ack.Ack() == nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, events.TypeSessionCreated, got.Type)

	// execution.recorded does not match the session.* binding
	ev, _, err := broker.Next(ctx, queue)
	require.NoError(t, err)
	assert.Nil(t, ev)

	missing, err := broker.QueueSize("missing_" + uuid.NewString())
	require.NoError(t, err)
	assert.Zero(t, missing)
}
