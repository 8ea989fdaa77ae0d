package events_test

import (
	"testing"

	"github.com/serandives/accounts-client/events"
	"github.com/stretchr/testify/require"
)

func TestEmitDeliversToAllListeners(t *testing.T) {
	bus := events.NewBus()

	var got []string
	bus.On("user", "ready", func(payload any) {
		got = append(got, "a:"+payload.(string))
	})
	bus.On("user", "ready", func(payload any) {
		got = append(got, "b:"+payload.(string))
	})

	bus.Emit("user", "ready", "boot")
	require.Equal(t, []string{"a:boot", "b:boot"}, got)
}

func TestOnListenersFireBeforeOnceListeners(t *testing.T) {
	bus := events.NewBus()

	var order []string
	bus.Once("user", "ready", func(any) { order = append(order, "once") })
	bus.On("user", "ready", func(any) { order = append(order, "on") })

	bus.Emit("user", "ready", nil)
	require.Equal(t, []string{"on", "once"}, order)
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	bus := events.NewBus()

	count := 0
	bus.Once("user", "logged in", func(any) { count++ })

	bus.Emit("user", "logged in", nil)
	bus.Emit("user", "logged in", nil)
	require.Equal(t, 1, count)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus()

	count := 0
	off := bus.On("user", "ready", func(any) { count++ })

	bus.Emit("user", "ready", nil)
	off()
	off() // second call is harmless
	bus.Emit("user", "ready", nil)
	require.Equal(t, 1, count)
}

func TestEmitWithNoListenersIsANoOp(t *testing.T) {
	bus := events.NewBus()
	require.NotPanics(t, func() {
		bus.Emit("user", "logged out", nil)
	})
}

func TestListenerMaySubscribeDuringDelivery(t *testing.T) {
	bus := events.NewBus()

	count := 0
	bus.Once("user", "ready", func(any) {
		bus.On("user", "logged in", func(any) { count++ })
	})

	bus.Emit("user", "ready", nil)
	bus.Emit("user", "logged in", nil)
	require.Equal(t, 1, count)
}

func TestChannelsAreIndependent(t *testing.T) {
	bus := events.NewBus()

	count := 0
	bus.On("stored", "user", func(any) { count++ })

	bus.Emit("user", "user", nil)
	require.Zero(t, count)

	bus.Emit("stored", "user", nil)
	require.Equal(t, 1, count)
}
