package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JohnPreston/credproxy/internal/config"
)

// scriptedFetcher hands out one scripted result per Fetch call, blocking
// until the test pushes the next one. This makes the refresh loop's pacing
// fully test-controlled.
type scriptedFetcher struct {
	results chan scriptedResult
}

type scriptedResult struct {
	snap *Snapshot
	err  error
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{results: make(chan scriptedResult)}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, def config.ServiceDefinition) (*Snapshot, error) {
	select {
	case r := <-f.results:
		return r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *scriptedFetcher) push(t *testing.T, r scriptedResult) {
	t.Helper()
	select {
	case f.results <- r:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out pushing fetch result: entry never fetched")
	}
}

func testSettings() config.CredentialSettings {
	// Retry delay 0 keeps the loop test-paced: the next attempt starts
	// immediately but blocks on the scripted fetcher.
	return config.CredentialSettings{
		RefreshBufferSeconds: 300,
		RetryDelay:           0,
		RequestTimeout:       30,
	}
}

func testDefinition(name, token string) config.ServiceDefinition {
	return config.BuildDefinition(name, token,
		config.SourceCredentials{Region: "eu-west-1"},
		config.AssumedRole{RoleArn: "arn:aws:iam::123456789012:role/" + name},
		nil, config.OriginStatic)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func snapshotExpiring(key string, in time.Duration) *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		AccessKeyID:     key,
		SecretAccessKey: "secret-" + key,
		SessionToken:    "token-" + key,
		Expiration:      now.Add(in),
		FetchedAt:       now,
	}
}

func TestEntryNotReadyBeforeFirstFetch(t *testing.T) {
	fetcher := newScriptedFetcher()
	e := NewEntry(testDefinition("app1", "tok1"), fetcher, testSettings())

	if _, err := e.CurrentSnapshot(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("CurrentSnapshot() error = %v, want ErrNotReady", err)
	}
	if got := e.State(); got != StateUninitialized {
		t.Fatalf("State() = %v, want uninitialized", got)
	}

	e.Start()
	defer e.Stop()
	waitFor(t, "fetching state", func() bool { return e.State() == StateFetching })

	// First fetch still in flight: reads stay not-ready, never block.
	if _, err := e.CurrentSnapshot(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("CurrentSnapshot() during first fetch = %v, want ErrNotReady", err)
	}

	snap := snapshotExpiring("AKIAFIRST", time.Hour)
	fetcher.push(t, scriptedResult{snap: snap})

	waitFor(t, "valid state", func() bool { return e.State() == StateValid })
	got, err := e.CurrentSnapshot()
	if err != nil {
		t.Fatalf("CurrentSnapshot() error = %v", err)
	}
	if got.AccessKeyID != "AKIAFIRST" {
		t.Errorf("AccessKeyID = %q, want AKIAFIRST", got.AccessKeyID)
	}
}

func TestEntrySnapshotReadIsIdempotent(t *testing.T) {
	fetcher := newScriptedFetcher()
	e := NewEntry(testDefinition("app1", "tok1"), fetcher, testSettings())
	e.Start()
	defer e.Stop()

	fetcher.push(t, scriptedResult{snap: snapshotExpiring("AKIAX", time.Hour)})
	waitFor(t, "valid state", func() bool { return e.State() == StateValid })

	first, err := e.CurrentSnapshot()
	if err != nil {
		t.Fatalf("CurrentSnapshot() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.CurrentSnapshot()
		if err != nil {
			t.Fatalf("CurrentSnapshot() error = %v", err)
		}
		if again != first {
			t.Fatal("repeated reads without a refresh returned different snapshots")
		}
	}
}

// Three consecutive failures keep serving the prior snapshot; the fourth
// attempt succeeds and the snapshot updates.
func TestEntryServesStaleAcrossFailures(t *testing.T) {
	fetcher := newScriptedFetcher()
	settings := testSettings()
	settings.RefreshBufferSeconds = 3600 // every success is inside the buffer: refresh immediately
	e := NewEntry(testDefinition("app1", "tok1"), fetcher, settings)
	e.Start()
	defer e.Stop()

	fetcher.push(t, scriptedResult{snap: snapshotExpiring("AKIAOLD", time.Hour)})
	waitFor(t, "first snapshot", func() bool {
		snap, err := e.CurrentSnapshot()
		return err == nil && snap.AccessKeyID == "AKIAOLD"
	})

	fetchErr := errors.New("throttled")
	for i := 1; i <= 3; i++ {
		fetcher.push(t, scriptedResult{err: fetchErr})
		waitFor(t, "failure count", func() bool { return e.Failures() == int64(i) })

		snap, err := e.CurrentSnapshot()
		if err != nil {
			t.Fatalf("CurrentSnapshot() after %d failures: %v", i, err)
		}
		if snap.AccessKeyID != "AKIAOLD" {
			t.Fatalf("after %d failures serving %q, want stale AKIAOLD", i, snap.AccessKeyID)
		}
		if e.State() != StateValid {
			t.Fatalf("state after %d failures = %v, want valid", i, e.State())
		}
	}

	fetcher.push(t, scriptedResult{snap: snapshotExpiring("AKIANEW", 2 * time.Hour)})
	waitFor(t, "recovered snapshot", func() bool {
		snap, err := e.CurrentSnapshot()
		return err == nil && snap.AccessKeyID == "AKIANEW"
	})
	if e.Failures() != 0 {
		t.Errorf("Failures() after success = %d, want 0", e.Failures())
	}
}

func TestEntryFailureWithoutSnapshotIsError(t *testing.T) {
	fetcher := newScriptedFetcher()
	e := NewEntry(testDefinition("app1", "tok1"), fetcher, testSettings())
	e.Start()
	defer e.Stop()

	fetcher.push(t, scriptedResult{err: errors.New("access denied")})
	waitFor(t, "error state", func() bool { return e.State() == StateError })

	if _, err := e.CurrentSnapshot(); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("CurrentSnapshot() error = %v, want ErrFetchFailed", err)
	}
}

func TestEntryExpiredSnapshotWhileFailing(t *testing.T) {
	fetcher := newScriptedFetcher()
	e := NewEntry(testDefinition("app1", "tok1"), fetcher, testSettings())

	// Install an already-expired snapshot directly: the refresh path has
	// been failing long enough for the credentials to lapse.
	e.snapshot.Store(snapshotExpiring("AKIADEAD", -time.Minute))
	e.state.Store(int32(StateValid))

	if _, err := e.CurrentSnapshot(); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("CurrentSnapshot() with expired snapshot = %v, want ErrFetchFailed", err)
	}
}

func TestEntryStopDiscardsInFlightFetch(t *testing.T) {
	fetcher := newScriptedFetcher()
	e := NewEntry(testDefinition("app1", "tok1"), fetcher, testSettings())
	e.Start()

	waitFor(t, "fetching state", func() bool { return e.State() == StateFetching })
	e.Stop()

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("entry did not stop")
	}

	if _, err := e.CurrentSnapshot(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("CurrentSnapshot() after stop = %v, want ErrNotReady", err)
	}
}

func TestEntryStopIsIdempotent(t *testing.T) {
	fetcher := newScriptedFetcher()
	e := NewEntry(testDefinition("app1", "tok1"), fetcher, testSettings())
	e.Start()

	e.Stop()
	e.Stop()

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("entry did not stop")
	}
}
