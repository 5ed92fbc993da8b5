package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrBatcherStopped is returned when events are added after Stop.
var ErrBatcherStopped = errors.New("event batcher is stopped")

// BatchConfig controls when buffered events are flushed.
type BatchConfig struct {
	FlushInterval time.Duration // Timer-based flush
	MaxBatchSize  int           // Max events per batch
	MaxBatchBytes int64         // Max estimated bytes per batch
}

// DefaultBatchConfig flushes every two seconds or every 50 events.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		FlushInterval: 2 * time.Second,
		MaxBatchSize:  50,
		MaxBatchBytes: 256 << 10,
	}
}

// eventOverhead approximates the fixed size of an event row.
const eventOverhead = 96

// EventBatcher buffers security events for the audit trail and hands them to
// onFlush based on a timer and size/byte thresholds.
type EventBatcher struct {
	mu sync.Mutex

	config BatchConfig

	buffer      []Event
	bufferBytes int64

	flushTimer *time.Timer
	stopCh     chan struct{}

	onFlush func([]Event) error
}

// NewEventBatcher creates a batcher. Zero config fields take the defaults.
func NewEventBatcher(config BatchConfig, onFlush func([]Event) error) *EventBatcher {
	defaults := DefaultBatchConfig()
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = defaults.MaxBatchSize
	}
	if config.MaxBatchBytes <= 0 {
		config.MaxBatchBytes = defaults.MaxBatchBytes
	}

	return &EventBatcher{
		config:  config,
		buffer:  make([]Event, 0, config.MaxBatchSize),
		stopCh:  make(chan struct{}),
		onFlush: onFlush,
	}
}

// Add buffers an event, flushing when the batch is full.
func (eb *EventBatcher) Add(event Event) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	select {
	case <-eb.stopCh:
		return ErrBatcherStopped
	default:
	}

	if len(eb.buffer) == 0 {
		eb.startFlushTimer()
	}

	eb.buffer = append(eb.buffer, event)
	eb.bufferBytes += int64(eventOverhead + len(event.Path) + len(event.ClientIP) + len(event.Code))

	switch {
	case len(eb.buffer) >= eb.config.MaxBatchSize:
		return eb.flushLocked("max_batch_size")
	case eb.bufferBytes >= eb.config.MaxBatchBytes:
		return eb.flushLocked("max_batch_bytes")
	}
	return nil
}

// Flush publishes any buffered events immediately.
func (eb *EventBatcher) Flush() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if len(eb.buffer) == 0 {
		return nil
	}
	return eb.flushLocked("manual_flush")
}

// Stop shuts down the batcher and flushes pending events. It is safe to
// call more than once.
func (eb *EventBatcher) Stop() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	select {
	case <-eb.stopCh:
		return nil
	default:
		close(eb.stopCh)
	}

	if eb.flushTimer != nil {
		eb.flushTimer.Stop()
	}

	if len(eb.buffer) > 0 {
		return eb.flushLocked("shutdown")
	}
	return nil
}

// flushLocked publishes the buffer. Must be called with lock held.
func (eb *EventBatcher) flushLocked(reason string) error {
	if eb.flushTimer != nil {
		eb.flushTimer.Stop()
		eb.flushTimer = nil
	}
	if len(eb.buffer) == 0 {
		return nil
	}

	batch := eb.buffer

	log.Debug().
		Int("event_count", len(batch)).
		Int64("bytes", eb.bufferBytes).
		Str("reason", reason).
		Msg("Flushing security event batch")

	eb.buffer = make([]Event, 0, eb.config.MaxBatchSize)
	eb.bufferBytes = 0

	return eb.onFlush(batch)
}

// startFlushTimer starts or restarts the flush timer. Must be called with
// lock held.
func (eb *EventBatcher) startFlushTimer() {
	if eb.flushTimer != nil {
		eb.flushTimer.Stop()
	}

	eb.flushTimer = time.AfterFunc(eb.config.FlushInterval, func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		select {
		case <-eb.stopCh:
			return
		default:
		}

		if len(eb.buffer) > 0 {
			if err := eb.flushLocked("timer"); err != nil {
				log.Error().Err(err).Msg("Failed to flush security events on timer")
			}
		}
	})
}
