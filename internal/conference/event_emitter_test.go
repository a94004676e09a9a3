package conference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventEmitterOn(t *testing.T) {
	emitter := NewEventEmitter()
	called := NewMockFunc(t)

	emitter.On("tick", called.Fn())

	assert.True(t, emitter.Emit("tick", 1, "two"))
	called.ExpectCalledWith(1, "two")

	emitter.Emit("tick")
	called.ExpectCalledTimes(2)
}

func TestEventEmitterEmitWithoutListeners(t *testing.T) {
	emitter := NewEventEmitter()

	assert.False(t, emitter.Emit("tick"))
}

func TestEventEmitterOnce(t *testing.T) {
	emitter := NewEventEmitter()
	called := NewMockFunc(t)

	emitter.Once("tick", called.Fn())

	emitter.Emit("tick")
	emitter.Emit("tick")

	called.ExpectCalledTimes(1)
	assert.Zero(t, emitter.ListenerCount("tick"))
}

func TestEventEmitterOrder(t *testing.T) {
	emitter := NewEventEmitter()

	var order []int
	emitter.On("tick", func(args ...interface{}) { order = append(order, 1) })
	emitter.On("tick", func(args ...interface{}) { order = append(order, 2) })
	emitter.On("tick", func(args ...interface{}) { order = append(order, 3) })

	emitter.Emit("tick")

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEventEmitterRemoveAllListeners(t *testing.T) {
	emitter := NewEventEmitter()
	called := NewMockFunc(t)

	emitter.On("tick", called.Fn())
	emitter.On("tock", called.Fn())

	emitter.RemoveAllListeners("tick")
	assert.Zero(t, emitter.ListenerCount("tick"))
	assert.Equal(t, 1, emitter.ListenerCount("tock"))

	emitter.RemoveAllListeners()
	assert.Zero(t, emitter.ListenerCount("tock"))
}

func TestEventEmitterSafeEmitRecovers(t *testing.T) {
	emitter := NewEventEmitter()
	called := NewMockFunc(t)

	emitter.On("tick", func(args ...interface{}) { panic("boom") })

	assert.NotPanics(t, func() { emitter.SafeEmit("tick") })

	// the emitter stays usable after a panicking listener
	emitter.On("tock", called.Fn())
	emitter.SafeEmit("tock")
	called.ExpectCalled()
}
