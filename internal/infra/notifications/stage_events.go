package notifications

import (
	"context"
	"sync"

	"agentflow/internal/domain"
)

const defaultStageEventBuffer = 64

// StageEventHub fans stage events out to subscribers. Slow subscribers lose
// events instead of stalling the run that emitted them.
type StageEventHub struct {
	mu   sync.RWMutex
	subs map[chan domain.StageEvent]string
}

func NewStageEventHub() *StageEventHub {
	return &StageEventHub{
		subs: make(map[chan domain.StageEvent]string),
	}
}

func (h *StageEventHub) EmitStageEvent(event domain.StageEvent) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, runID := range h.subs {
		if runID != "" && runID != event.RunID {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns events for runID, or for every run when runID is empty.
// The channel is closed once ctx is done.
func (h *StageEventHub) Subscribe(ctx context.Context, runID string) <-chan domain.StageEvent {
	return h.SubscribeBuffered(ctx, runID, defaultStageEventBuffer)
}

func (h *StageEventHub) SubscribeBuffered(ctx context.Context, runID string, buffer int) <-chan domain.StageEvent {
	if buffer <= 0 {
		buffer = defaultStageEventBuffer
	}
	ch := make(chan domain.StageEvent, buffer)
	if h == nil {
		close(ch)
		return ch
	}

	h.mu.Lock()
	h.subs[ch] = runID
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Subscribers reports the number of live subscriptions.
func (h *StageEventHub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// MultiEmitter forwards each event to every non-nil emitter.
type MultiEmitter []domain.StageEventEmitter

func (m MultiEmitter) EmitStageEvent(event domain.StageEvent) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.EmitStageEvent(event)
		}
	}
}

var (
	_ domain.StageEventEmitter = (*StageEventHub)(nil)
	_ domain.StageEventEmitter = MultiEmitter(nil)
)
