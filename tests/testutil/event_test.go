package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/marketsync/internal/domain/shared"
)

type recordedEvent struct {
	shared.BaseDomainEvent
}

func newRecordedEvent(eventType, aggregateID string) *recordedEvent {
	return &recordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "SyncRun", aggregateID, time.Now()),
	}
}

func TestMockEventHandler_HandledOfType(t *testing.T) {
	handler := NewMockEventHandler("SyncRunFinished", "OrderAcknowledged")
	ctx := context.Background()
	assert.Equal(t, []string{"SyncRunFinished", "OrderAcknowledged"}, handler.EventTypes())

	require.NoError(t, handler.Handle(ctx, newRecordedEvent("SyncRunFinished", "run-1")))
	require.NoError(t, handler.Handle(ctx, newRecordedEvent("OrderAcknowledged", "42")))
	require.NoError(t, handler.Handle(ctx, newRecordedEvent("SyncRunFinished", "run-2")))

	finished := handler.HandledOfType("SyncRunFinished")
	require.Len(t, finished, 2)
	assert.Equal(t, "run-1", finished[0].AggregateID())
	assert.Equal(t, "run-2", finished[1].AggregateID())
	assert.Equal(t, 3, handler.HandledCount())
}

func TestWaitForEventCount(t *testing.T) {
	handler := NewMockEventHandler("SyncRunFinished")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = handler.Handle(context.Background(), newRecordedEvent("SyncRunFinished", "run-1"))
	}()

	assert.True(t, WaitForEventCount(t, handler, 1, time.Second))
	assert.False(t, WaitForEventCount(t, handler, 2, 30*time.Millisecond))
}
