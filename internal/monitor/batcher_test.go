package monitor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/firmguard/internal/apierror"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (f *flushRecorder) flush(events []Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, events)
	return f.err
}

func (f *flushRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func testEvent(path string) Event {
	return Event{Kind: KindForbidden, Code: apierror.CodePermissionDenied, Status: http.StatusForbidden, Path: path, ClientIP: "192.0.2.1"}
}

func TestEventBatcherMaxSize(t *testing.T) {
	rec := &flushRecorder{}
	batcher := NewEventBatcher(BatchConfig{FlushInterval: time.Minute, MaxBatchSize: 3}, rec.flush)

	require.NoError(t, batcher.Add(testEvent("/cases/1")))
	require.NoError(t, batcher.Add(testEvent("/cases/2")))
	require.Zero(t, rec.count(), "should not flush until the batch is full")

	require.NoError(t, batcher.Add(testEvent("/cases/3")))
	require.Equal(t, 1, rec.count())
	require.Len(t, rec.batches[0], 3)
	require.Equal(t, "/cases/1", rec.batches[0][0].Path)
	require.Equal(t, "/cases/3", rec.batches[0][2].Path)

	require.NoError(t, batcher.Stop())
}

func TestEventBatcherMaxBytes(t *testing.T) {
	rec := &flushRecorder{}
	batcher := NewEventBatcher(BatchConfig{FlushInterval: time.Minute, MaxBatchSize: 100, MaxBatchBytes: 400}, rec.flush)

	long := "/" + strings.Repeat("x", 200)
	require.NoError(t, batcher.Add(testEvent(long)))
	require.Zero(t, rec.count())
	require.NoError(t, batcher.Add(testEvent(long)))
	require.Equal(t, 1, rec.count())

	require.NoError(t, batcher.Stop())
}

func TestEventBatcherTimer(t *testing.T) {
	rec := &flushRecorder{}
	batcher := NewEventBatcher(BatchConfig{FlushInterval: 50 * time.Millisecond, MaxBatchSize: 100}, rec.flush)

	require.NoError(t, batcher.Add(testEvent("/cases")))
	require.Zero(t, rec.count())

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, batcher.Stop())
}

func TestEventBatcherStop(t *testing.T) {
	rec := &flushRecorder{}
	batcher := NewEventBatcher(BatchConfig{FlushInterval: time.Minute}, rec.flush)

	require.NoError(t, batcher.Add(testEvent("/cases")))
	require.NoError(t, batcher.Stop())
	require.Equal(t, 1, rec.count(), "stop flushes pending events")

	require.NoError(t, batcher.Stop())
	require.ErrorIs(t, batcher.Add(testEvent("/cases")), ErrBatcherStopped)
}

func TestEventBatcherFlushError(t *testing.T) {
	rec := &flushRecorder{err: errors.New("db down")}
	batcher := NewEventBatcher(BatchConfig{FlushInterval: time.Minute}, rec.flush)

	require.NoError(t, batcher.Add(testEvent("/cases")))
	require.Error(t, batcher.Flush())
	require.NoError(t, batcher.Flush(), "buffer is reset after a failed flush")
	require.NoError(t, batcher.Stop())
}

func TestRecordAudits(t *testing.T) {
	rec := &flushRecorder{}
	batcher := NewEventBatcher(BatchConfig{FlushInterval: time.Minute}, rec.flush)
	scorer := &recordingScorer{score: 0.25}

	m := New(scorer, WithAudit(batcher))
	m.Record(context.Background(), testEvent("/cases"))

	require.NoError(t, batcher.Stop())
	require.Equal(t, 1, rec.count())
	require.InDelta(t, 0.25, rec.batches[0][0].Score, 0.0001)
}
