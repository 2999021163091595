package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/pkg/schema"
)

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, TransitionFilter{})
	require.NoError(t, err)
	defer cancel()

	rec := schema.TransitionRecord{
		Sequence:    1,
		ExecutionID: "exec-1",
		Label:       schema.StateLabel(schema.StateTypeTask, schema.PhaseEntered),
		StateName:   "Hello",
		Input:       map[string]any{"a": 1.0},
	}
	require.NoError(t, hub.Publish(ctx, rec))

	select {
	case got := <-ch:
		assert.Equal(t, rec.ExecutionID, got.ExecutionID)
		assert.Equal(t, rec.StateName, got.StateName)
		assert.Equal(t, schema.TransitionLabel("TaskStateEntered"), got.Label)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transition")
	}
}

func TestFilterByExecutionID(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, TransitionFilter{ExecutionID: "exec-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, schema.TransitionRecord{ExecutionID: "exec-1", Label: schema.ExecutionStarted}))
	require.NoError(t, hub.Publish(ctx, schema.TransitionRecord{ExecutionID: "exec-2", Label: schema.ExecutionStarted}))

	select {
	case got := <-ch:
		assert.Equal(t, "exec-1", got.ExecutionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transition")
	}

	select {
	case rec := <-ch:
		t.Fatalf("unexpected transition: %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFilterByLabelAndState(t *testing.T) {
	tests := []struct {
		name   string
		filter TransitionFilter
		rec    schema.TransitionRecord
		want   bool
	}{
		{"empty filter", TransitionFilter{}, schema.TransitionRecord{Label: schema.ExecutionFailed}, true},
		{"label match", TransitionFilter{Labels: []schema.TransitionLabel{schema.ExecutionFailed, schema.ExecutionSucceeded}}, schema.TransitionRecord{Label: schema.ExecutionSucceeded}, true},
		{"label miss", TransitionFilter{Labels: []schema.TransitionLabel{schema.ExecutionFailed}}, schema.TransitionRecord{Label: schema.ExecutionStarted}, false},
		{"state match", TransitionFilter{StateName: "A"}, schema.TransitionRecord{StateName: "A"}, true},
		{"state miss", TransitionFilter{StateName: "A"}, schema.TransitionRecord{StateName: "B"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchFilter(tt.filter, tt.rec))
		})
	}
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, TransitionFilter{})
	require.NoError(t, err)

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, hub.Publish(ctx, schema.TransitionRecord{Label: schema.ExecutionStarted}))
}

func TestSlowSubscriberDrops(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	_, cancel, err := hub.Subscribe(ctx, TransitionFilter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, schema.TransitionRecord{Sequence: int64(i)}))
	}
	assert.Equal(t, uint64(10), hub.Dropped())
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, hub.Publish(ctx, schema.TransitionRecord{}))
	_, _, err := hub.Subscribe(ctx, TransitionFilter{})
	assert.Error(t, err)
}

func TestConcurrentPublish(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, TransitionFilter{})
	require.NoError(t, err)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = hub.Publish(ctx, schema.TransitionRecord{Sequence: int64(i)})
		}(i)
	}
	wg.Wait()

	assert.Len(t, ch, 50)
}
