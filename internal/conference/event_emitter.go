package conference

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/go-logr/logr"

	"github.com/jiyeyuran/mediasoup-conference/internal/logger"
)

// Listener is an observer callback. Emitted arguments are passed
// through unchanged; listeners assert the types they expect.
type Listener func(args ...interface{})

// IEventEmitter is the observer surface exposed by Room and Registry.
// It mirrors the mediasoup Observer() API: listeners are called in
// registration order on the emitting goroutine.
type IEventEmitter interface {
	// On adds the listener to the end of the listener list for the
	// named event. No deduplication is performed.
	On(event string, listener Listener)

	// Once adds a listener invoked at most one time.
	Once(event string, listener Listener)

	// Emit calls the registered listeners in order. Returns true if
	// the event had listeners.
	Emit(event string, args ...interface{}) bool

	// SafeEmit is Emit with panic recovery; a panicking listener is
	// logged and does not take the emitting goroutine down.
	SafeEmit(event string, args ...interface{}) bool

	// RemoveAllListeners removes all listeners, or those of the named
	// events.
	RemoveAllListeners(events ...string)

	// ListenerCount returns the number of listeners for the event.
	ListenerCount(event string) int
}

type eventListener struct {
	fn   Listener
	once *sync.Once
}

type EventEmitter struct {
	mu        sync.Mutex
	listeners map[string][]*eventListener
	logger    logr.Logger
}

func NewEventEmitter() IEventEmitter {
	return &EventEmitter{
		logger: logger.New("EventEmitter"),
	}
}

func (e *EventEmitter) On(event string, listener Listener) {
	e.add(event, &eventListener{fn: listener})
}

func (e *EventEmitter) Once(event string, listener Listener) {
	e.add(event, &eventListener{fn: listener, once: &sync.Once{}})
}

func (e *EventEmitter) add(event string, listener *eventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[string][]*eventListener)
	}
	e.listeners[event] = append(e.listeners[event], listener)
}

func (e *EventEmitter) Emit(event string, args ...interface{}) bool {
	e.mu.Lock()
	listeners := make([]*eventListener, len(e.listeners[event]))
	copy(listeners, e.listeners[event])

	// drop one-shot listeners before invoking them so a listener that
	// emits the same event again never sees them twice
	remaining := e.listeners[event][:0]
	for _, listener := range e.listeners[event] {
		if listener.once == nil {
			remaining = append(remaining, listener)
		}
	}
	if e.listeners != nil {
		e.listeners[event] = remaining
	}
	e.mu.Unlock()

	for _, listener := range listeners {
		if listener.once != nil {
			listener.once.Do(func() { listener.fn(args...) })
		} else {
			listener.fn(args...)
		}
	}

	return len(listeners) > 0
}

func (e *EventEmitter) SafeEmit(event string, args ...interface{}) bool {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(fmt.Errorf("%v", r), "emit panic", "event", event, "stack", debug.Stack())
		}
	}()

	return e.Emit(event, args...)
}

func (e *EventEmitter) RemoveAllListeners(events ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		return
	}
	if len(events) == 0 {
		e.listeners = nil
		return
	}
	for _, event := range events {
		delete(e.listeners, event)
	}
}

func (e *EventEmitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.listeners[event])
}
