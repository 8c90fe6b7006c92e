package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	a := New(TypeSessionCreated, 1, 2, at)
	b := New(TypeSessionCreated, 1, 2, at)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.OccurredAt.Location())
	assert.True(t, a.OccurredAt.Equal(at))

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.EqualValues(t, 2, fields["test_session_id"])
	assert.NotContains(t, fields, "test_case_id")
	assert.NotContains(t, fields, "count")
}

func TestRecorderIsSafeForConcurrentUse(t *testing.T) {
	var r Recorder
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Publish(context.Background(), New(TypeExecutionRecorded, 1, int64(i), time.Now()))
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.Events(), 20)
	for _, typ := range r.Types() {
		assert.Equal(t, TypeExecutionRecorded, typ)
	}
	require.NoError(t, r.Close())
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
