// Package events carries notification intents from the workflow engine
// to whatever dispatcher delivers them. The bus is asynchronous and
// at-least-once toward subscribers; idempotent delivery is the
// dispatcher's problem.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
)

// Handler consumes one notification intent.
type Handler func(ctx context.Context, intent entity.NotificationIntent)

// IntentBus fans intents out to subscribers from a buffered channel.
// A full buffer falls back to a synchronous hand-off so no intent is
// dropped.
type IntentBus struct {
	handlers map[entity.IntentKind][]Handler
	mu       sync.RWMutex

	ch     chan entity.NotificationIntent
	logger *zap.Logger
	wg     sync.WaitGroup
	closed bool
}

// NewIntentBus creates a bus with the given channel buffer size and
// starts its delivery goroutine.
func NewIntentBus(bufferSize int, logger *zap.Logger) *IntentBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	b := &IntentBus{
		handlers: make(map[entity.IntentKind][]Handler),
		ch:       make(chan entity.NotificationIntent, bufferSize),
		logger:   logger,
	}
	b.wg.Add(1)
	go b.deliver()
	return b
}

// Subscribe registers a handler for one intent kind.
func (b *IntentBus) Subscribe(kind entity.IntentKind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// SubscribeAll registers a handler for every intent kind the engine
// emits.
func (b *IntentBus) SubscribeAll(handler Handler) {
	for _, kind := range []entity.IntentKind{
		entity.IntentRequestSubmitted,
		entity.IntentRequestAdvanced,
		entity.IntentApprovalRecorded,
		entity.IntentRequestClosed,
	} {
		b.Subscribe(kind, handler)
	}
}

// Publish queues an intent for delivery. It never blocks on the
// subscriber side: when the buffer is full the intent is handed to a
// fresh goroutine instead.
func (b *IntentBus) Publish(ctx context.Context, intent entity.NotificationIntent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("Intent dropped, bus is stopped",
			zap.String("kind", string(intent.Kind)),
			zap.Int64("request_id", intent.RequestID))
		return
	}

	select {
	case b.ch <- intent:
	default:
		b.logger.Warn("Intent buffer full, delivering out of band",
			zap.String("kind", string(intent.Kind)))
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.dispatch(intent)
		}()
	}
}

// Stop closes the bus and waits for queued intents to be delivered.
func (b *IntentBus) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *IntentBus) deliver() {
	defer b.wg.Done()
	for intent := range b.ch {
		b.dispatch(intent)
	}
}

func (b *IntentBus) dispatch(intent entity.NotificationIntent) {
	b.mu.RLock()
	handlers := b.handlers[intent.Kind]
	b.mu.RUnlock()

	ctx := context.Background()
	for _, h := range handlers {
		h(ctx, intent)
	}
}
