package cluster

import "context"

// FakeProvider returns canned snapshots, for tests and dry runs.
type FakeProvider struct {
	Snap    *Snapshot
	Err     error
	ByHost  map[string]*Snapshot
	HostErr error
}

func (f *FakeProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	return f.Snap, f.Err
}

func (f *FakeProvider) SnapshotFrom(ctx context.Context, host string) (*Snapshot, error) {
	if f.HostErr != nil {
		return nil, f.HostErr
	}
	if snap, ok := f.ByHost[host]; ok {
		return snap, nil
	}
	return f.Snap, f.Err
}
