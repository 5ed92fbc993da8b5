package monitor

import (
	"context"
	"sync"
	"time"
)

// WindowScorer scores events by how many events the same client produced
// within a sliding window, relative to a limit. A score of 1 means the
// client reached the limit.
type WindowScorer struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	events map[string][]time.Time
}

// NewWindowScorer creates a scorer allowing limit events per window.
func NewWindowScorer(window time.Duration, limit int) *WindowScorer {
	return &WindowScorer{
		window: window,
		limit:  max(limit, 1),
		events: make(map[string][]time.Time),
	}
}

func (s *WindowScorer) Score(ctx context.Context, event Event) (float64, error) {
	key := event.ClientIP
	if key == "" {
		key = event.UserID.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := event.At.Add(-s.window)
	kept := s.events[key][:0]
	for _, at := range s.events[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, event.At)
	s.events[key] = kept

	return float64(len(kept)) / float64(s.limit), nil
}
