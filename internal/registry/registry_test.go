package registry_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/concierge/internal/channel"
	"github.com/Veraticus/concierge/internal/mocks"
	"github.com/Veraticus/concierge/internal/registry"
)

func newRegistry(ch *mocks.MockChannel, received *int) *registry.Registry {
	return registry.New(ch, func(context.Context, channel.InboundEvent) {
		*received++
	})
}

func TestConfigure_Idempotent(t *testing.T) {
	ch := mocks.NewMockChannel()
	received := 0
	r := newRegistry(ch, &received)

	first, err := r.Configure(context.Background())
	require.NoError(t, err)
	assert.False(t, first.AlreadyConfigured)
	assert.NotEmpty(t, first.SubscriptionID)

	for range 3 {
		res, err := r.Configure(context.Background())
		require.NoError(t, err)
		assert.True(t, res.AlreadyConfigured)
		assert.Equal(t, first.SubscriptionID, res.SubscriptionID)
	}

	assert.Equal(t, 1, ch.Registrations())
	assert.True(t, r.IsConfigured())

	// One inbound event reaches the handler exactly once.
	require.True(t, ch.Deliver(context.Background(), channel.InboundEvent{ConversationKey: "k"}))
	assert.Equal(t, 1, received)
}

func TestConfigure_NotConnected(t *testing.T) {
	ch := mocks.NewMockChannel()
	ch.SetConnected(false)
	received := 0
	r := newRegistry(ch, &received)

	_, err := r.Configure(context.Background())

	require.ErrorIs(t, err, registry.ErrNotConnected)
	assert.False(t, r.IsConfigured())
	assert.Zero(t, ch.Registrations())
}

func TestConfigure_ReplacesStaleSubscription(t *testing.T) {
	ch := mocks.NewMockChannel()
	received := 0
	r := newRegistry(ch, &received)

	first, err := r.Configure(context.Background())
	require.NoError(t, err)

	ch.DropSubscription()
	assert.False(t, r.IsConfigured())

	second, err := r.Configure(context.Background())
	require.NoError(t, err)
	assert.False(t, second.AlreadyConfigured)
	assert.NotEqual(t, first.SubscriptionID, second.SubscriptionID)
	assert.True(t, r.IsConfigured())
	assert.Equal(t, 2, ch.Registrations())
}

func TestConfigure_Concurrent(t *testing.T) {
	ch := mocks.NewMockChannel()
	received := 0
	r := newRegistry(ch, &received)

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Configure(context.Background())
			if err == nil && !res.AlreadyConfigured {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, ch.Registrations())
}

func TestRevoke(t *testing.T) {
	ch := mocks.NewMockChannel()
	received := 0
	r := newRegistry(ch, &received)

	require.NoError(t, r.Revoke(context.Background()))

	_, err := r.Configure(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.Revoke(context.Background()))

	assert.False(t, r.IsConfigured())
	assert.False(t, ch.Deliver(context.Background(), channel.InboundEvent{}))

	res, err := r.Configure(context.Background())
	require.NoError(t, err)
	assert.False(t, res.AlreadyConfigured)
}
