package replmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/pgguard/pgguard/cluster"
)

// Fake is a scripted Manager for tests. Zero values mean "succeed and do
// nothing"; Calls records every operation in order.
type Fake struct {
	Snap   *cluster.Snapshot
	Err    error
	ByHost map[string]*cluster.Snapshot

	// Lags maps node name to lag seconds; absent names report lag unknown.
	Lags map[string]int

	PromoteErr  error
	RewindErr   error
	CloneErr    error
	RegisterErr error
	// UnregisterErrs is consumed one error per Unregister call, so tests
	// can script fail-then-succeed sequences.
	UnregisterErrs []error

	mu    sync.Mutex
	Calls []string
}

func (f *Fake) Snapshot(ctx context.Context) (*cluster.Snapshot, error) {
	f.record("snapshot")
	return f.Snap, f.Err
}

func (f *Fake) SnapshotFrom(ctx context.Context, host string) (*cluster.Snapshot, error) {
	f.record("snapshot-from " + host)
	if snap, ok := f.ByHost[host]; ok {
		return snap, nil
	}
	return f.Snap, f.Err
}

func (f *Fake) ReplicationLag(ctx context.Context, nodeName string) (int, bool, error) {
	f.record("lag " + nodeName)
	lag, ok := f.Lags[nodeName]
	return lag, ok, nil
}

func (f *Fake) Promote(ctx context.Context) error {
	f.record("promote")
	return f.PromoteErr
}

func (f *Fake) Rewind(ctx context.Context, primaryHost string) error {
	f.record("rewind " + primaryHost)
	return f.RewindErr
}

func (f *Fake) Clone(ctx context.Context, primaryHost string) error {
	f.record("clone " + primaryHost)
	return f.CloneErr
}

func (f *Fake) RegisterStandby(ctx context.Context, force bool) error {
	f.record(fmt.Sprintf("register force=%v", force))
	return f.RegisterErr
}

func (f *Fake) Unregister(ctx context.Context, nodeID int) error {
	f.record(fmt.Sprintf("unregister %v", nodeID))
	if len(f.UnregisterErrs) == 0 {
		return nil
	}

	err := f.UnregisterErrs[0]
	f.UnregisterErrs = f.UnregisterErrs[1:]
	return err
}

// CallCount returns how many recorded calls have the given prefix.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, c := range f.Calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			count++
		}
	}
	return count
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}
