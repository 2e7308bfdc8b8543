package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversToEverySubscriber(t *testing.T) {
	bus := NewMemoryBus()
	var gotA, gotB, other [][]byte

	a, err := bus.Join("room", func(b []byte) { gotA = append(gotA, b) })
	require.NoError(t, err)
	_, err = bus.Join("room", func(b []byte) { gotB = append(gotB, b) })
	require.NoError(t, err)
	_, err = bus.Join("elsewhere", func(b []byte) { other = append(other, b) })
	require.NoError(t, err)

	require.NoError(t, a.Publish([]byte("hi")))
	assert.Equal(t, [][]byte{[]byte("hi")}, gotA)
	assert.Equal(t, [][]byte{[]byte("hi")}, gotB)
	assert.Empty(t, other)
}

func TestMemoryBusPartitionAndFailure(t *testing.T) {
	bus := NewMemoryBus()
	n := 0
	ch, err := bus.Join("room", func([]byte) { n++ })
	require.NoError(t, err)

	bus.Partition(true)
	require.NoError(t, ch.Publish([]byte("x")))
	assert.Zero(t, n)

	bus.Partition(false)
	bus.FailPublish(errors.New("down"))
	assert.EqualError(t, ch.Publish([]byte("x")), "down")

	bus.FailPublish(nil)
	require.NoError(t, ch.Publish([]byte("x")))
	assert.Equal(t, 1, n)
}

func TestMemoryChannelClose(t *testing.T) {
	bus := NewMemoryBus()
	ch, err := bus.Join("room", func([]byte) {})
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.Zero(t, bus.Subscribers("room"))
	assert.ErrorIs(t, ch.Publish([]byte("x")), ErrChannelClosed)
}
