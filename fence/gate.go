package fence

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"github.com/pgguard/pgguard/cluster"
	"github.com/pgguard/pgguard/lease"
	"github.com/pgguard/pgguard/statestore"
)

type Config struct {
	LockTTL        time.Duration
	LockTimeout    time.Duration
	LockRetryDelay time.Duration

	// MaxLagSeconds refuses a candidate further behind than this; zero
	// disables the bound.
	MaxLagSeconds int

	// MinVisibleNodes refuses promotion when fewer standbys than this are
	// visible, to avoid promoting into a partition.
	MinVisibleNodes int
}

type Gate struct {
	NodeID   int
	NodeName string

	Provider cluster.Provider
	Lags     LagReader
	Promoter Promoter
	Local    LocalNode
	Lock     lease.Lease
	Override statestore.OverrideMarker
	Log      *logrus.Entry

	Config
}

// AttemptPromotion runs the full fencing sequence. A nil return means this
// node was promoted; a *Refusal says why it was not. The promotion lock is
// released exactly once on every exit path.
func (g *Gate) AttemptPromotion(ctx context.Context) error {
	overridden, err := g.Override.Consume()
	if err != nil {
		return err
	}
	if overridden {
		// Operator said so. The only path that skips fencing.
		g.Log.Warningf("manual override marker consumed, promoting unconditionally")
		return g.Promoter.Promote(ctx)
	}

	token, err := g.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := g.Lock.Release(ctx, token); releaseErr != nil {
			g.Log.Errorf("could not release promotion lock: %v", releaseErr)
		}
	}()

	snap, err := g.Provider.Snapshot(ctx)
	if err != nil && errors.Is(err, cluster.ErrTopologyAmbiguous) {
		return refused(ReasonTopologyAmbiguous, "more than one running primary reported")
	}
	if err != nil {
		// Topology unknown. The quorum validator fails open on a nil
		// snapshot and the remaining checks run on local evidence only.
		g.Log.Warningf("topology unknown during promotion attempt: %v", err)
		snap = nil
	}

	if !cluster.QuorumAllowsFailover(snap) {
		return refused(ReasonNoQuorum, "fewer than two running voters visible")
	}

	if snap != nil && snap.Primary != "" && snap.Primary != g.NodeName {
		if probeErr := g.Local.ProbeLiveness(ctx, snap.Primary); probeErr == nil {
			return refused(ReasonExistingPrimary, "%v answered liveness probe", snap.Primary)
		}
	}

	if err := g.checkReadiness(ctx); err != nil {
		return err
	}

	if err := g.arbitrate(ctx, snap); err != nil {
		return err
	}

	// State may have moved while we were comparing lags; re-check right
	// before the irreversible call.
	if err := g.checkReadiness(ctx); err != nil {
		return err
	}

	g.Log.Infof("all fencing checks passed, promoting %v", g.NodeName)
	return g.Promoter.Promote(ctx)
}

func (g *Gate) acquireLock(ctx context.Context) (*lease.Token, error) {
	attempts := uint(1)
	if g.LockRetryDelay > 0 && g.LockTimeout > g.LockRetryDelay {
		attempts = uint(g.LockTimeout / g.LockRetryDelay)
	}

	var token *lease.Token
	err := retry.Do(
		func() error {
			t, acquireErr := g.Lock.Acquire(ctx, g.LockTTL)
			if acquireErr != nil {
				return acquireErr
			}

			token = t
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(g.LockRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, lease.ErrBusy)
		}),
		retry.OnRetry(func(n uint, err error) {
			g.Log.Debugf("promotion lock busy, retry %v", n)
		}),
	)
	if err != nil {
		if errors.Is(err, lease.ErrBusy) {
			return nil, refused(ReasonLockTimeout, "lock still busy after %v", g.LockTimeout)
		}
		return nil, err
	}

	return token, nil
}

func (g *Gate) checkReadiness(ctx context.Context) error {
	if !g.Local.IsRunning() {
		return refused(ReasonNotReady, "local postgres is not running")
	}

	isInRecovery, err := g.Local.IsInRecovery(ctx)
	if err != nil {
		return refused(ReasonNotReady, "could not determine recovery state: %v", err)
	}
	if !isInRecovery {
		return refused(ReasonNotReady, "local postgres is not a replica")
	}

	return nil
}

// arbitrate elects the least-lagged visible standby. With no competitor
// there is nothing to compare; with several, only the minimum-lag node (ties
// broken by lowest node id) proceeds.
func (g *Gate) arbitrate(ctx context.Context, snap *cluster.Snapshot) error {
	var visible []cluster.NodeRecord
	if snap != nil {
		visible = snap.RunningStandbys()
	}

	if g.MinVisibleNodes > 0 && len(visible) < g.MinVisibleNodes {
		return refused(ReasonInsufficientVisibility, "only %v standbys visible, need %v", len(visible), g.MinVisibleNodes)
	}

	if len(visible) <= 1 {
		return nil
	}

	selfLag, selfKnown := 0, false
	best := cluster.NodeRecord{}
	bestKnown := false

	for _, node := range visible {
		lag, known, err := g.Lags.ReplicationLag(ctx, node.Name)
		if err != nil {
			g.Log.Warningf("could not read lag of %v: %v", node.Name, err)
			known = false
		}

		if node.Name == g.NodeName {
			selfLag, selfKnown = lag, known
		}
		if !known {
			continue
		}

		if !bestKnown || lag < best.LagSeconds || (lag == best.LagSeconds && node.ID < best.ID) {
			best = node
			best.LagSeconds = lag
			best.LagKnown = true
			bestKnown = true
		}
	}

	if !selfKnown {
		return refused(ReasonLagUnknown, "replication lag of %v could not be determined", g.NodeName)
	}

	if g.MaxLagSeconds > 0 && selfLag > g.MaxLagSeconds {
		return refused(ReasonLagTooHigh, "lag %vs exceeds limit %vs", selfLag, g.MaxLagSeconds)
	}

	if best.Name != g.NodeName {
		return refused(ReasonNotBestCandidate, "%v has lower lag (%vs vs %vs)", best.Name, best.LagSeconds, selfLag)
	}

	return nil
}
