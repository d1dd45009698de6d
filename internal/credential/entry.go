package credential

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JohnPreston/credproxy/internal/config"
	"github.com/JohnPreston/credproxy/internal/log"
	"github.com/JohnPreston/credproxy/internal/metrics"
)

// State is an Entry's lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateFetching
	StateValid
	StateRefreshing
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFetching:
		return "fetching"
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "refreshing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Fetcher performs one provider exchange for a service definition.
type Fetcher interface {
	Fetch(ctx context.Context, def config.ServiceDefinition) (*Snapshot, error)
}

// Entry owns the credential lifecycle for one service: a background
// goroutine that fetches, schedules its own refresh, and retries on failure,
// plus a lock-free read path over the latest good snapshot.
//
// At most one fetch is in flight per entry: the loop is the only fetcher and
// it runs attempts strictly in sequence.
type Entry struct {
	def      config.ServiceDefinition
	fetcher  Fetcher
	settings config.CredentialSettings

	snapshot atomic.Pointer[Snapshot]
	state    atomic.Int32
	failures atomic.Int64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// NewEntry builds an entry in the uninitialized state. Call Start to begin
// fetching.
func NewEntry(def config.ServiceDefinition, fetcher Fetcher, settings config.CredentialSettings) *Entry {
	return &Entry{
		def:      def,
		fetcher:  fetcher,
		settings: settings,
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Definition returns the service definition the entry was created from.
func (e *Entry) Definition() config.ServiceDefinition {
	return e.def
}

// State returns the current lifecycle state.
func (e *Entry) State() State {
	return State(e.state.Load())
}

// Failures returns the consecutive failure count.
func (e *Entry) Failures() int64 {
	return e.failures.Load()
}

// Start launches the background refresh task with an immediate first fetch.
func (e *Entry) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(ctx)
}

// Stop cancels the background task. Safe to call concurrently with an
// in-flight fetch; a fetch racing with Stop has its result discarded. Stop
// does not wait for the task to exit; use Done for that.
func (e *Entry) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
	})
}

// Done is closed when the background task has exited.
func (e *Entry) Done() <-chan struct{} {
	return e.done
}

// CurrentSnapshot returns the last good snapshot without blocking. It
// returns ErrNotReady before the first successful fetch and ErrFetchFailed
// once the snapshot has expired while refreshes keep failing.
func (e *Entry) CurrentSnapshot() (*Snapshot, error) {
	snap := e.snapshot.Load()
	if snap == nil {
		if e.State() == StateError {
			return nil, ErrFetchFailed
		}
		return nil, ErrNotReady
	}
	if snap.Expired(e.now()) {
		return nil, ErrFetchFailed
	}
	return snap, nil
}

func (e *Entry) run(ctx context.Context) {
	defer close(e.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		outcome := e.fetch(ctx)
		if ctx.Err() != nil {
			// Stopped while fetching; the result was discarded.
			return
		}
		timer.Reset(NextDelay(outcome, e.settings, e.now()))
	}
}

// fetch performs one exchange and applies its result to the entry state.
func (e *Entry) fetch(ctx context.Context) Outcome {
	if e.snapshot.Load() == nil {
		e.state.Store(int32(StateFetching))
	} else {
		e.state.Store(int32(StateRefreshing))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.settings.RequestTimeoutDuration())
	snap, err := e.fetcher.Fetch(fetchCtx, e.def)
	cancel()

	if ctx.Err() != nil {
		return Outcome{Err: ctx.Err()}
	}

	if err != nil {
		count := e.failures.Add(1)
		metrics.RecordFetch(e.def.Name, "failure")
		log.Warn("credential fetch failed",
			"service", e.def.Name, "consecutive_failures", count, "error", err)

		// A still-valid prior snapshot keeps serving; once it expires the
		// entry is in error until the next success.
		if prev := e.snapshot.Load(); prev != nil && !prev.Expired(e.now()) {
			e.state.Store(int32(StateValid))
		} else {
			e.state.Store(int32(StateError))
		}
		return Outcome{Err: err}
	}

	e.snapshot.Store(snap)
	e.failures.Store(0)
	e.state.Store(int32(StateValid))
	metrics.RecordFetch(e.def.Name, "success")
	log.Debug("credentials refreshed",
		"service", e.def.Name, "expiration", snap.Expiration)
	return Outcome{Expiration: snap.Expiration}
}
