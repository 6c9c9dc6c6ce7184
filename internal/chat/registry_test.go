package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/healthchat/internal/domain"
	"github.com/Rrens/healthchat/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ForUserLoadsOnce(t *testing.T) {
	convs := new(MockConversationRepository)
	msgs := new(MockMessageRepository)
	reg := NewRegistry(convs, msgs, testConfig(), nil, WithScheduler(immediate))
	ctx := context.Background()

	convs.On("ListByUser", ctx, "user-1").Return([]domain.Conversation{{ID: "c-1", Title: "Diet"}}, nil).Once()
	msgs.On("ListByConversation", ctx, "c-1").Return([]domain.Message{}, nil).Once()

	var wg sync.WaitGroup
	stores := make([]*Store, 8)
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stores[i] = reg.ForUser(ctx, testIdentity)
		}(i)
	}
	wg.Wait()

	for _, s := range stores {
		assert.Same(t, stores[0], s)
	}
	assert.Len(t, stores[0].Conversations(), 1)
	assert.Equal(t, 1, reg.Len())
	convs.AssertNumberOfCalls(t, "ListByUser", 1)
}

func TestRegistry_GuestsAreIsolated(t *testing.T) {
	reg := NewRegistry(nil, nil, testConfig(), nil, WithScheduler(immediate))
	ctx := context.Background()

	a := reg.ForGuest("guest-a")
	b := reg.ForGuest("guest-b")
	require.NotSame(t, a, b)
	assert.Same(t, a, reg.ForGuest("guest-a"))

	_, err := a.SendMessage(ctx, "", "Hello")
	require.NoError(t, err)

	active, _ := b.Active()
	assert.Empty(t, active.Messages)
}

func TestRegistry_UserAndGuestKeysDoNotCollide(t *testing.T) {
	convs := new(MockConversationRepository)
	reg := NewRegistry(convs, new(MockMessageRepository), testConfig(), nil)

	convs.On("ListByUser", mock.Anything, "same-id").Return([]domain.Conversation{}, nil)

	user := reg.ForUser(context.Background(), domain.Identity{UserID: "same-id"})
	guest := reg.ForGuest("same-id")

	assert.NotSame(t, user, guest)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_DropAndWait(t *testing.T) {
	m := metrics.NewCollector("test")
	sched := &manualScheduler{}
	reg := NewRegistry(nil, nil, testConfig(), m, WithScheduler(sched.schedule))

	store := reg.ForGuest("guest-a")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveStores))

	_, err := store.SendMessage(context.Background(), "", "Hello")
	require.NoError(t, err)

	reg.Drop(store.Session())
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveStores))

	sched.fire()
	reg.Wait()

	active, _ := store.Active()
	assert.Len(t, active.Messages, 2)
	assert.NotSame(t, store, reg.ForGuest("guest-a"))
}

func TestRegistry_SweepEvictsIdleSessions(t *testing.T) {
	m := metrics.NewCollector("test")
	cfg := testConfig()
	cfg.SessionIdleTTL = 30 * time.Minute
	reg := NewRegistry(nil, nil, cfg, m, WithScheduler(immediate))

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	reg.now = func() time.Time { return clock }

	for i := 0; i < 100; i++ {
		reg.ForGuest(fmt.Sprintf("guest-%d", i))
	}
	clock = start.Add(20 * time.Minute)
	busy := reg.ForGuest("guest-0")

	assert.Equal(t, 0, reg.Sweep(start.Add(29*time.Minute)))
	assert.Equal(t, 100, reg.Len())

	assert.Equal(t, 99, reg.Sweep(start.Add(31*time.Minute)))
	assert.Equal(t, 1, reg.Len())
	assert.Same(t, busy, reg.ForGuest("guest-0"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveStores))

	reg.Wait()
}

func TestRegistry_SweepDisabled(t *testing.T) {
	reg := NewRegistry(nil, nil, testConfig(), nil)
	reg.ForGuest("guest-a")

	assert.Equal(t, 0, reg.Sweep(time.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_RunStopsWithContext(t *testing.T) {
	cfg := testConfig()
	cfg.SessionIdleTTL = time.Millisecond
	reg := NewRegistry(nil, nil, cfg, nil)
	reg.ForGuest("guest-a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
