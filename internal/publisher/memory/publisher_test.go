package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badgerdata/marketpipe/internal/pipeline"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	event := pipeline.RunEvent{RunID: "run-1", Source: "bls", Status: pipeline.RunStatusSucceeded}

	id, err := p.Publish(context.Background(), "marketpipe-runs", event)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "marketpipe-runs", msgs[0].Topic)
	require.Equal(t, event, msgs[0].Payload)
}
