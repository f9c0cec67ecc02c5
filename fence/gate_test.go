package fence

import (
	"context"
	"fmt"
	"io/ioutil"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgguard/pgguard/cluster"
	"github.com/pgguard/pgguard/lease"
	"github.com/pgguard/pgguard/replmgr"
	"github.com/pgguard/pgguard/statestore"
)

type fakeLocal struct {
	running     bool
	inRecovery  bool
	recoveryErr error
	liveHosts   map[string]bool
}

func (f *fakeLocal) IsRunning() bool { return f.running }

func (f *fakeLocal) IsInRecovery(ctx context.Context) (bool, error) {
	return f.inRecovery, f.recoveryErr
}

func (f *fakeLocal) ProbeLiveness(ctx context.Context, host string) error {
	if f.liveHosts[host] {
		return nil
	}
	return fmt.Errorf("no response from %v", host)
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	return logrus.NewEntry(l)
}

// primaryLessSnapshot is the classic failover picture: primary gone, three
// standbys and a witness still answering.
func primaryLessSnapshot() *cluster.Snapshot {
	return &cluster.Snapshot{
		Nodes: []cluster.NodeRecord{
			{ID: 1, Name: "pg-1", Role: cluster.RolePrimary, Status: cluster.StatusUnreachable},
			{ID: 2, Name: "pg-a", Role: cluster.RoleStandby, Status: cluster.StatusRunning},
			{ID: 3, Name: "pg-b", Role: cluster.RoleStandby, Status: cluster.StatusRunning},
			{ID: 4, Name: "pg-c", Role: cluster.RoleStandby, Status: cluster.StatusRunning},
			{ID: 5, Name: "pg-w", Role: cluster.RoleWitness, Status: cluster.StatusRunning},
		},
	}
}

func newGate(t *testing.T, nodeID int, nodeName string, mgr *replmgr.Fake, lock lease.Lease) *Gate {
	t.Helper()
	return &Gate{
		NodeID:   nodeID,
		NodeName: nodeName,
		Provider: mgr,
		Lags:     mgr,
		Promoter: mgr,
		Local:    &fakeLocal{running: true, inRecovery: true},
		Lock:     lock,
		Override: statestore.OverrideMarker{Path: path.Join(t.TempDir(), "override")},
		Log:      testLog(),
		Config: Config{
			LockTTL:        time.Minute,
			LockTimeout:    40 * time.Millisecond,
			LockRetryDelay: 10 * time.Millisecond,
		},
	}
}

func TestLagArbitration(t *testing.T) {
	mgr := &replmgr.Fake{
		Snap: primaryLessSnapshot(),
		Lags: map[string]int{"pg-a": 2, "pg-b": 5, "pg-c": 1},
	}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "test"})

	refusalA := newGate(t, 2, "pg-a", mgr, lock.ForHolder("pg-a")).AttemptPromotion(context.Background())
	refusalB := newGate(t, 3, "pg-b", mgr, lock.ForHolder("pg-b")).AttemptPromotion(context.Background())
	errC := newGate(t, 4, "pg-c", mgr, lock.ForHolder("pg-c")).AttemptPromotion(context.Background())

	for _, err := range []error{refusalA, refusalB} {
		refusal, ok := AsRefusal(err)
		require.True(t, ok, "expected refusal, got %v", err)
		assert.Equal(t, ReasonNotBestCandidate, refusal.Reason)
	}

	require.NoError(t, errC)
	assert.Equal(t, 1, mgr.CallCount("promote"))
}

func TestLagTieBreaksByNodeID(t *testing.T) {
	mgr := &replmgr.Fake{
		Snap: primaryLessSnapshot(),
		Lags: map[string]int{"pg-a": 1, "pg-b": 1, "pg-c": 1},
	}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "pg-a"})

	require.NoError(t, newGate(t, 2, "pg-a", mgr, lock).AttemptPromotion(context.Background()))

	err := newGate(t, 3, "pg-b", mgr, lock.ForHolder("pg-b")).AttemptPromotion(context.Background())
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNotBestCandidate, refusal.Reason)
}

func TestSelfLagUnknownRefused(t *testing.T) {
	mgr := &replmgr.Fake{
		Snap: primaryLessSnapshot(),
		Lags: map[string]int{"pg-b": 5, "pg-c": 1},
	}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "pg-a"})

	err := newGate(t, 2, "pg-a", mgr, lock).AttemptPromotion(context.Background())
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, ReasonLagUnknown, refusal.Reason)
	assert.Zero(t, mgr.CallCount("promote"))
}

func TestLagBoundRefusal(t *testing.T) {
	// pg-a is the best candidate but everyone is too far behind.
	mgr := &replmgr.Fake{
		Snap: primaryLessSnapshot(),
		Lags: map[string]int{"pg-a": 10, "pg-b": 20, "pg-c": 30},
	}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "pg-a"})

	gate := newGate(t, 2, "pg-a", mgr, lock)
	gate.MaxLagSeconds = 5

	err := gate.AttemptPromotion(context.Background())
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, ReasonLagTooHigh, refusal.Reason)
	assert.Zero(t, mgr.CallCount("promote"))
}

func TestVisibilityBoundRefusal(t *testing.T) {
	// Quorum holds (standby + witness), but only one standby is visible.
	snap := &cluster.Snapshot{
		Nodes: []cluster.NodeRecord{
			{ID: 1, Name: "pg-1", Role: cluster.RolePrimary, Status: cluster.StatusUnreachable},
			{ID: 2, Name: "pg-a", Role: cluster.RoleStandby, Status: cluster.StatusRunning},
			{ID: 3, Name: "pg-b", Role: cluster.RoleStandby, Status: cluster.StatusUnreachable},
			{ID: 4, Name: "pg-w", Role: cluster.RoleWitness, Status: cluster.StatusRunning},
		},
	}
	mgr := &replmgr.Fake{Snap: snap}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "pg-a"})

	gate := newGate(t, 2, "pg-a", mgr, lock)
	gate.MinVisibleNodes = 2

	err := gate.AttemptPromotion(context.Background())
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, ReasonInsufficientVisibility, refusal.Reason)
	assert.Zero(t, mgr.CallCount("promote"))
}

func TestLoneVisibleStandbyPromotesWithoutComparison(t *testing.T) {
	snap := &cluster.Snapshot{
		Nodes: []cluster.NodeRecord{
			{ID: 1, Name: "pg-1", Role: cluster.RolePrimary, Status: cluster.StatusFailed},
			{ID: 2, Name: "pg-a", Role: cluster.RoleStandby, Status: cluster.StatusRunning},
			{ID: 3, Name: "pg-w", Role: cluster.RoleWitness, Status: cluster.StatusRunning},
		},
	}
	mgr := &replmgr.Fake{Snap: snap}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "pg-a"})

	require.NoError(t, newGate(t, 2, "pg-a", mgr, lock).AttemptPromotion(context.Background()))
	assert.Zero(t, mgr.CallCount("lag"))
	assert.Equal(t, 1, mgr.CallCount("promote"))
}

func TestQuorumRefusal(t *testing.T) {
	// One running standby, no witness: two voters required.
	snap := &cluster.Snapshot{
		Nodes: []cluster.NodeRecord{
			{ID: 1, Name: "pg-1", Role: cluster.RolePrimary, Status: cluster.StatusUnreachable},
			{ID: 2, Name: "pg-a", Role: cluster.RoleStandby, Status: cluster.StatusRunning},
		},
	}
	mgr := &replmgr.Fake{Snap: snap}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "pg-a"})

	err := newGate(t, 2, "pg-a", mgr, lock).AttemptPromotion(context.Background())
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNoQuorum, refusal.Reason)
}

func TestReachablePrimaryHardRefusal(t *testing.T) {
	snap := primaryLessSnapshot()
	snap.Primary = "pg-1"
	snap.Nodes[0].Status = cluster.StatusRunning

	mgr := &replmgr.Fake{Snap: snap, Lags: map[string]int{"pg-a": 0}}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "pg-a"})

	gate := newGate(t, 2, "pg-a", mgr, lock)
	gate.Local = &fakeLocal{running: true, inRecovery: true, liveHosts: map[string]bool{"pg-1": true}}

	err := gate.AttemptPromotion(context.Background())
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, ReasonExistingPrimary, refusal.Reason)
	assert.Zero(t, mgr.CallCount("promote"))
}

func TestNotReadyRefusal(t *testing.T) {
	mgr := &replmgr.Fake{Snap: primaryLessSnapshot(), Lags: map[string]int{"pg-a": 0}}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "pg-a"})

	gate := newGate(t, 2, "pg-a", mgr, lock)
	gate.Local = &fakeLocal{running: true, inRecovery: false}

	err := gate.AttemptPromotion(context.Background())
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNotReady, refusal.Reason)
}

func TestAmbiguousTopologyRefusal(t *testing.T) {
	snap := primaryLessSnapshot()
	snap.Ambiguous = true
	mgr := &replmgr.Fake{Snap: snap, Err: cluster.ErrTopologyAmbiguous}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "pg-a"})

	err := newGate(t, 2, "pg-a", mgr, lock).AttemptPromotion(context.Background())
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, ReasonTopologyAmbiguous, refusal.Reason)
}

func TestLockTimeoutRefusal(t *testing.T) {
	mgr := &replmgr.Fake{Snap: primaryLessSnapshot(), Lags: map[string]int{"pg-a": 0}}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "other-node"})

	// Someone else holds the lock and never lets go.
	_, err := lock.Acquire(context.Background(), time.Hour)
	require.NoError(t, err)

	gate := newGate(t, 2, "pg-a", mgr, lock.ForHolder("pg-a"))
	err = gate.AttemptPromotion(context.Background())
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, ReasonLockTimeout, refusal.Reason)
	assert.Zero(t, mgr.CallCount("promote"))
}

func TestLockReleasedAfterRefusal(t *testing.T) {
	mgr := &replmgr.Fake{Snap: primaryLessSnapshot(), Lags: map[string]int{"pg-b": 5, "pg-c": 1}}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "pg-a"})

	err := newGate(t, 2, "pg-a", mgr, lock).AttemptPromotion(context.Background())
	_, ok := AsRefusal(err)
	require.True(t, ok)

	// A refusal must not leave the lock held.
	token, err := lock.ForHolder("pg-b").Acquire(context.Background(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, token)
}

func TestConcurrentGatesPromoteAtMostOne(t *testing.T) {
	mgr := &replmgr.Fake{
		Snap: primaryLessSnapshot(),
		Lags: map[string]int{"pg-a": 3, "pg-b": 1, "pg-c": 7},
	}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "seed"})

	var wg sync.WaitGroup
	for _, n := range []struct {
		id   int
		name string
	}{{2, "pg-a"}, {3, "pg-b"}, {4, "pg-c"}} {
		wg.Add(1)
		gate := newGate(t, n.id, n.name, mgr, lock.ForHolder(n.name))
		go func() {
			defer wg.Done()
			_ = gate.AttemptPromotion(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, mgr.CallCount("promote"))
}

func TestManualOverrideBypassesFencing(t *testing.T) {
	mgr := &replmgr.Fake{Snap: primaryLessSnapshot()}
	lock := lease.NewMemory(lease.Config{Resource: "promotion", Holder: "pg-a"})

	gate := newGate(t, 2, "pg-a", mgr, lock)
	// Not even ready: the override must still win.
	gate.Local = &fakeLocal{running: false}
	require.NoError(t, gate.Override.Place())

	require.NoError(t, gate.AttemptPromotion(context.Background()))
	assert.Equal(t, 1, mgr.CallCount("promote"))

	// Single use: the next attempt goes through the normal sequence.
	err := gate.AttemptPromotion(context.Background())
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNotReady, refusal.Reason)
}
