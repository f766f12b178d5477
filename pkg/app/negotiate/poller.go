// Package negotiate implements the tool-parameter negotiation protocol:
// the periodic probe for a pending schema and the helpers that pre-fill
// and merge the human-edited parameter values.
package negotiate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/pilot-dev/pilot/pkg/app/metrics"
	"github.com/pilot-dev/pilot/pkg/app/state"
)

// DefaultInterval is the probe period while authenticated.
const DefaultInterval = time.Second

// SchemaSource fetches the current pending schema from the remote store.
type SchemaSource interface {
	GetCurrentSchema(ctx context.Context, userID string) (*state.ToolSchema, error)
}

// Poller probes the remote store for a pending tool-parameter schema and
// raises a state transition only when the answer changes. Identical
// payloads are a strict no-op so a same-content refetch never clobbers
// form values the human is mid-editing.
type Poller struct {
	source   SchemaSource
	store    *state.Store
	interval time.Duration
	log      logr.Logger

	// lastSeen is the serialized form of the last schema dispatched. It
	// is shared between the run loop and Forget.
	mu       sync.Mutex
	lastSeen string
}

// NewPoller creates a Poller. A non-positive interval falls back to
// DefaultInterval.
func NewPoller(source SchemaSource, store *state.Store, interval time.Duration, log logr.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		source:   source,
		store:    store,
		interval: interval,
		log:      log.WithName("negotiation-poller"),
	}
}

// Start runs the probe loop until ctx is cancelled. Cancelling the
// context on logout is mandatory; a dangling timer after logout is a
// correctness bug, not just a leak.
func (p *Poller) Start(ctx context.Context, userID string) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.log.V(1).Info("context cancelled, stopping negotiation poller")
				return
			case <-ticker.C:
				p.poll(ctx, userID)
			}
		}
	}()
}

// Forget drops the last-seen schema so the next differing fetch is
// treated as new. Called after a successful submission.
func (p *Poller) Forget() {
	p.mu.Lock()
	p.lastSeen = ""
	p.mu.Unlock()
}

func (p *Poller) poll(ctx context.Context, userID string) {
	schema, err := p.source.GetCurrentSchema(ctx, userID)
	if err != nil {
		// Transient; the next tick retries.
		p.log.V(1).Info("schema probe failed", "reason", err.Error())
		return
	}

	if schema.Empty() {
		p.mu.Lock()
		cleared := p.lastSeen != ""
		p.lastSeen = ""
		p.mu.Unlock()
		if cleared {
			p.store.Dispatch(state.SetPendingSchema{Schema: nil})
			p.log.V(1).Info("pending negotiation cleared")
		}
		return
	}

	serialized, err := json.Marshal(schema)
	if err != nil {
		p.log.Error(err, "failed to serialize schema")
		return
	}

	p.mu.Lock()
	if string(serialized) == p.lastSeen {
		p.mu.Unlock()
		return
	}
	p.lastSeen = string(serialized)
	p.mu.Unlock()
	prefilled := Prefill(schema)
	p.store.Dispatch(state.SetPendingSchema{Schema: prefilled})
	metrics.NegotiationChanges.Inc()
	p.log.V(1).Info("new negotiation pending", "tool", schema.Name)
}
