package negotiate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-dev/pilot/pkg/app/state"
)

type fakeSource struct {
	mu     sync.Mutex
	schema *state.ToolSchema
	err    error
}

func (f *fakeSource) GetCurrentSchema(_ context.Context, _ string) (*state.ToolSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schema, f.err
}

func (f *fakeSource) set(schema *state.ToolSchema, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schema = schema
	f.err = err
}

// countDispatches counts store notifications; the poller is the only
// dispatcher in these tests.
func countDispatches(store *state.Store) (func() int, func()) {
	var mu sync.Mutex
	n := 0
	unsubscribe := store.Subscribe(func(state.AppState) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		return n
	}, unsubscribe
}

func TestPollerDispatchesNewSchemaOnce(t *testing.T) {
	store := state.NewStore(logr.Discard())
	source := &fakeSource{schema: sampleSchema()}
	poller := NewPoller(source, store, 5*time.Millisecond, logr.Discard())

	count, unsubscribe := countDispatches(store)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx, "user_1")

	require.Eventually(t, func() bool {
		return !store.State().PendingSchema.Empty()
	}, time.Second, 5*time.Millisecond)

	// Identical payloads on later ticks are a strict no-op.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, count())

	schema := store.State().PendingSchema
	assert.Equal(t, "POSCAR", schema.InputSchema.Properties["structure_file"].UserInput)
}

func TestPollerClearsWhenNegotiationResolves(t *testing.T) {
	store := state.NewStore(logr.Discard())
	source := &fakeSource{schema: sampleSchema()}
	poller := NewPoller(source, store, 5*time.Millisecond, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx, "user_1")

	require.Eventually(t, func() bool {
		return !store.State().PendingSchema.Empty()
	}, time.Second, 5*time.Millisecond)

	source.set(nil, nil)
	require.Eventually(t, func() bool {
		return store.State().PendingSchema.Empty()
	}, time.Second, 5*time.Millisecond)
}

func TestPollerIgnoresTransientErrors(t *testing.T) {
	store := state.NewStore(logr.Discard())
	source := &fakeSource{err: errors.New("network down")}
	poller := NewPoller(source, store, 5*time.Millisecond, logr.Discard())

	count, unsubscribe := countDispatches(store)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx, "user_1")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, count())
	assert.Nil(t, store.State().PendingSchema)

	// The negotiation lands as soon as the probe recovers.
	source.set(sampleSchema(), nil)
	require.Eventually(t, func() bool {
		return !store.State().PendingSchema.Empty()
	}, time.Second, 5*time.Millisecond)
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	store := state.NewStore(logr.Discard())
	source := &fakeSource{}
	poller := NewPoller(source, store, 5*time.Millisecond, logr.Discard())

	count, unsubscribe := countDispatches(store)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	poller.Start(ctx, "user_1")
	cancel()
	time.Sleep(20 * time.Millisecond)

	source.set(sampleSchema(), nil)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, count())
}

func TestForgetAllowsRedeliveryAfterSubmission(t *testing.T) {
	store := state.NewStore(logr.Discard())
	source := &fakeSource{schema: sampleSchema()}
	poller := NewPoller(source, store, 5*time.Millisecond, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx, "user_1")

	require.Eventually(t, func() bool {
		return !store.State().PendingSchema.Empty()
	}, time.Second, 5*time.Millisecond)

	// Submission clears local state and forgets the payload; the same
	// tool coming back later must be surfaced again.
	store.Dispatch(state.SetPendingSchema{Schema: nil})
	poller.Forget()

	require.Eventually(t, func() bool {
		return !store.State().PendingSchema.Empty()
	}, time.Second, 5*time.Millisecond)
}
