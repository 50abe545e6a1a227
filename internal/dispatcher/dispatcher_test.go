package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/badgerdata/marketpipe/internal/pipeline"
	queuememory "github.com/badgerdata/marketpipe/internal/queue/memory"
)

func TestDispatcherRunStopsWithContext(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	d := New(q, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}
}

func TestDispatcherEnqueueProxiesToQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q := queuememory.NewQueue(1)
	d := New(q, nil)

	req := pipeline.RunRequest{RunID: "run-1", Source: "fcc"}
	require.NoError(t, d.Enqueue(ctx, req))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestDispatcherEnqueueWrapsQueueErrors(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	d := New(q, nil)
	require.NoError(t, d.Enqueue(context.Background(), pipeline.RunRequest{RunID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Enqueue(ctx, pipeline.RunRequest{RunID: "b"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "queue enqueue")
}
