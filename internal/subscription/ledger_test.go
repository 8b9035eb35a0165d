package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/ctpbridge/internal/gateway"
)

// fakeGateway records calls and returns configured status codes.
type fakeGateway struct {
	mu           sync.Mutex
	subscribes   map[string]int
	unsubscribes map[string]int
	subStatus    map[string]int
	unsubStatus  map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		subscribes:   make(map[string]int),
		unsubscribes: make(map[string]int),
		subStatus:    make(map[string]int),
		unsubStatus:  make(map[string]int),
	}
}

func (g *fakeGateway) SubscribeMarketData(_ context.Context, instrument string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribes[instrument]++
	return g.subStatus[instrument]
}

func (g *fakeGateway) UnsubscribeMarketData(_ context.Context, instrument string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unsubscribes[instrument]++
	return g.unsubStatus[instrument]
}

func (g *fakeGateway) counts(instrument string) (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.subscribes[instrument], g.unsubscribes[instrument]
}

func TestLedger_SharedSubscription(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	l := NewLedger(gw, nil)

	require.NoError(t, l.Subscribe(ctx, "X", "A"))
	require.NoError(t, l.Subscribe(ctx, "X", "B"))

	subs, unsubs := gw.counts("X")
	assert.Equal(t, 1, subs, "second subscriber must not reach the gateway")
	assert.Equal(t, 0, unsubs)
	assert.Equal(t, []string{"A", "B"}, l.Subscribers("X"))

	require.NoError(t, l.Unsubscribe(ctx, "X", "A"))
	_, unsubs = gw.counts("X")
	assert.Equal(t, 0, unsubs, "gateway unsubscribe while B still subscribed")
	assert.Equal(t, []string{"B"}, l.Subscribers("X"))

	require.NoError(t, l.Unsubscribe(ctx, "X", "B"))
	_, unsubs = gw.counts("X")
	assert.Equal(t, 1, unsubs)
	assert.False(t, l.IsSubscribed("X"))
	assert.Empty(t, l.Instruments())
}

func TestLedger_SubscribeIdempotent(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	l := NewLedger(gw, nil)

	require.NoError(t, l.Subscribe(ctx, "X", "A"))
	require.NoError(t, l.Subscribe(ctx, "X", "A"))

	subs, _ := gw.counts("X")
	assert.Equal(t, 1, subs)
	assert.Equal(t, []string{"A"}, l.Subscribers("X"))
}

func TestLedger_RejectedSubscribeLeavesNoEntry(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.subStatus["Y"] = 3
	l := NewLedger(gw, nil)

	err := l.Subscribe(ctx, "Y", "A")
	require.Error(t, err)

	var se *gateway.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 3, se.Code)
	assert.False(t, l.IsSubscribed("Y"))

	// A retry must reach the gateway again.
	gw.subStatus["Y"] = 0
	require.NoError(t, l.Subscribe(ctx, "Y", "A"))
	subs, _ := gw.counts("Y")
	assert.Equal(t, 2, subs)
	assert.True(t, l.IsSubscribed("Y"))
}

func TestLedger_FailedUnsubscribeKeepsSubscriber(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	l := NewLedger(gw, nil)

	require.NoError(t, l.Subscribe(ctx, "X", "A"))

	gw.unsubStatus["X"] = gateway.StatusNetwork
	err := l.Unsubscribe(ctx, "X", "A")
	assert.Equal(t, gateway.StatusNetwork, gateway.Code(err))
	assert.Equal(t, []string{"A"}, l.Subscribers("X"))

	gw.unsubStatus["X"] = 0
	require.NoError(t, l.Unsubscribe(ctx, "X", "A"))
	_, unsubs := gw.counts("X")
	assert.Equal(t, 2, unsubs)
	assert.False(t, l.IsSubscribed("X"))
}

func TestLedger_UnsubscribeNoops(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	l := NewLedger(gw, nil)

	require.NoError(t, l.Unsubscribe(ctx, "X", "A"), "unknown instrument")

	require.NoError(t, l.Subscribe(ctx, "X", "A"))
	require.NoError(t, l.Unsubscribe(ctx, "X", "B"), "non-member subscriber")

	_, unsubs := gw.counts("X")
	assert.Equal(t, 0, unsubs)
	assert.Equal(t, []string{"A"}, l.Subscribers("X"))
}

func TestLedger_Resubscribe(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	l := NewLedger(gw, nil)

	require.NoError(t, l.Subscribe(ctx, "X", "A"))
	require.NoError(t, l.Subscribe(ctx, "Z", "A"))

	gw.subStatus["Z"] = gateway.StatusRateLimited
	err := l.Resubscribe(ctx)
	assert.Equal(t, gateway.StatusRateLimited, gateway.Code(err))

	xs, _ := gw.counts("X")
	zs, _ := gw.counts("Z")
	assert.Equal(t, 2, xs)
	assert.Equal(t, 2, zs)
	assert.Equal(t, []string{"X", "Z"}, l.Instruments(), "entries survive failed resubscribe")
}

func TestLedger_ConcurrentFirstSubscribe(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	l := NewLedger(gw, nil)

	var wg sync.WaitGroup
	for _, id := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, l.Subscribe(ctx, "X", id))
		}(id)
	}
	wg.Wait()

	subs, _ := gw.counts("X")
	assert.Equal(t, 1, subs)
	assert.Equal(t, map[string]int{"X": 8}, l.Snapshot())
}
