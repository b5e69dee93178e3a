package flow

import (
	"log/slog"
	"sync"
)

// Sink receives every published snapshot synchronously, in order.
type Sink interface {
	Publish(State)
}

type SinkFunc func(State)

func (f SinkFunc) Publish(s State) { f(s) }

// Tracker holds the current snapshot of one orchestrator and fans it out.
// Subscribers see the latest snapshot; a slow subscriber skips intermediate
// ones rather than blocking the flow.
type Tracker struct {
	mu      sync.Mutex
	current State
	gen     uint64
	subs    map[int]chan State
	nextSub int
	sinks   []Sink
}

func NewTracker(sinks ...Sink) *Tracker {
	return &Tracker{
		current: State{Step: StepIdle},
		subs:    map[int]chan State{},
		sinks:   sinks,
	}
}

func (t *Tracker) AddSink(s Sink) {
	t.mu.Lock()
	t.sinks = append(t.sinks, s)
	t.mu.Unlock()
}

func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.clone()
}

// Subscribe returns a channel carrying the current snapshot and every later
// one, plus a cancel func that closes it.
func (t *Tracker) Subscribe() (<-chan State, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan State, 1)
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	ch <- t.current.clone()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

// Reset returns the tracker to idle. Updates from a flow started before the
// reset are dropped; on-chain effects already committed are untouched.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.gen++
	t.current = State{Step: StepIdle}
	t.broadcastLocked(t.current)
	t.mu.Unlock()
}

// begin starts a new run and returns its generation.
func (t *Tracker) begin(s State) uint64 {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.mu.Unlock()
	t.publish(gen, s)
	return gen
}

// publish stores s if gen is still the live run. Sinks run outside the lock.
func (t *Tracker) publish(gen uint64, s State) bool {
	snap := s.clone()
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return false
	}
	t.current = snap
	t.broadcastLocked(snap)
	sinks := append([]Sink(nil), t.sinks...)
	t.mu.Unlock()
	for _, sink := range sinks {
		sink.Publish(snap.clone())
	}
	return true
}

func (t *Tracker) broadcastLocked(s State) {
	for _, ch := range t.subs {
		select {
		case ch <- s.clone():
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s.clone():
			default:
			}
		}
	}
}

// LogSink logs transitions: failures at warn, the rest at debug.
func LogSink(logger *slog.Logger) Sink {
	return SinkFunc(func(s State) {
		attrs := []any{"flow_id", s.ID, "kind", s.Kind, "chain_id", s.ChainID, "step", s.Step}
		if s.TxHash != "" {
			attrs = append(attrs, "tx_hash", s.TxHash)
		}
		if s.Failed() {
			attrs = append(attrs, "error_at_step", s.Failure.FailedAt, "err", s.Failure.Message)
			if s.Failure.Rejected {
				logger.Info("flow cancelled by user", attrs...)
				return
			}
			logger.Warn("flow failed", attrs...)
			return
		}
		logger.Debug("flow transition", attrs...)
	})
}
