package loop

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"riskloop/internal/logging"
	"riskloop/internal/premortem"
)

// EventType discriminates controller lifecycle events.
type EventType string

const (
	EventIterationStart      EventType = "iteration-start"
	EventResearchComplete    EventType = "research-complete"
	EventPremortemComplete   EventType = "premortem-complete"
	EventRemediationComplete EventType = "remediation-complete"
	EventLoopComplete        EventType = "loop-complete"
	EventPaused              EventType = "paused"
	EventResumed             EventType = "resumed"
	EventError               EventType = "error"
)

// Event is a single controller lifecycle notification. Payloads are
// read-only snapshots; listeners must not mutate them.
type Event struct {
	Type      EventType
	ProjectID string
	Timestamp time.Time
	Payload   any
}

// Payload shapes, one per event type.

type IterationStartPayload struct {
	Iteration int
}

type ResearchCompletePayload struct {
	ArtifactCount int
	Warnings      []string
}

type PremortemCompletePayload struct {
	FailureRate float64
	Scenarios   []premortem.FailureScenario
}

type RemediationCompletePayload struct{}

type LoopCompletePayload struct {
	Iteration   int
	FailureRate float64
	Converged   bool
}

type PausedPayload struct{}

type ResumedPayload struct{}

type ErrorPayload struct {
	Phase string
	Cause error
}

// Listener receives events synchronously, in registration order.
type Listener func(Event)

// Subscription is a stable handle for removing a listener.
type Subscription struct {
	id     string
	cancel func()
	once   sync.Once
}

// Unsubscribe removes the listener. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// eventBus delivers events to listeners in registration order. A panicking
// listener is recovered so it cannot break delivery to later listeners or
// corrupt controller state.
type eventBus struct {
	mu        sync.Mutex
	listeners []busEntry
}

type busEntry struct {
	id string
	fn Listener
}

func newEventBus() *eventBus {
	return &eventBus{}
}

func (b *eventBus) subscribe(fn Listener) *Subscription {
	id := uuid.NewString()
	b.mu.Lock()
	b.listeners = append(b.listeners, busEntry{id: id, fn: fn})
	b.mu.Unlock()

	return &Subscription{
		id: id,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, entry := range b.listeners {
				if entry.id == id {
					b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
					break
				}
			}
		},
	}
}

func (b *eventBus) publish(event Event) {
	b.mu.Lock()
	snapshot := make([]busEntry, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, entry := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Loop().Warn("event listener panicked",
						zap.String("event", string(event.Type)),
						zap.Any("panic", r))
				}
			}()
			entry.fn(event)
		}()
	}
}
