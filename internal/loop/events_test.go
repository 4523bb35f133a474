package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_DeliversInRegistrationOrder(t *testing.T) {
	bus := newEventBus()

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		bus.subscribe(func(Event) { order = append(order, i) })
	}

	bus.publish(Event{Type: EventIterationStart})
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := newEventBus()

	var calls int
	sub := bus.subscribe(func(Event) { calls++ })

	bus.publish(Event{Type: EventIterationStart})
	sub.Unsubscribe()
	sub.Unsubscribe() // repeat is a no-op
	bus.publish(Event{Type: EventIterationStart})

	assert.Equal(t, 1, calls)
}

func TestEventBus_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	bus := newEventBus()

	var delivered bool
	bus.subscribe(func(Event) { panic("listener bug") })
	bus.subscribe(func(Event) { delivered = true })

	assert.NotPanics(t, func() {
		bus.publish(Event{Type: EventPremortemComplete})
	})
	assert.True(t, delivered)
}

func TestEventBus_UnsubscribeDuringPublish(t *testing.T) {
	bus := newEventBus()

	var sub *Subscription
	var first, second int
	sub = bus.subscribe(func(Event) {
		first++
		sub.Unsubscribe()
	})
	bus.subscribe(func(Event) { second++ })

	bus.publish(Event{Type: EventIterationStart})
	bus.publish(Event{Type: EventIterationStart})

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}
