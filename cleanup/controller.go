// Package cleanup removes stale registrations of nodes that have been
// unreachable for several consecutive polls, after confirming the suspicion
// against the primary's own view of the topology.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"github.com/pgguard/pgguard/cluster"
	"github.com/pgguard/pgguard/lease"
	"github.com/pgguard/pgguard/statestore"
)

// Remover is the slice of the replication manager the controller needs.
type Remover interface {
	SnapshotFrom(ctx context.Context, host string) (*cluster.Snapshot, error)
	Unregister(ctx context.Context, nodeID int) error
}

type Config struct {
	// Interval gates how often a cleanup attempt may run; counters still
	// move every poll.
	Interval time.Duration

	// Threshold is the consecutive-unreachable streak that makes a node a
	// cleanup candidate.
	Threshold int

	// PrimaryHint is the fallback host to confirm against when the
	// snapshot declares no primary.
	PrimaryHint string

	LockTTL       time.Duration
	RetryAttempts uint
	RetryDelay    time.Duration
}

type Controller struct {
	NodeName string
	Remover  Remover
	Lock     lease.Lease
	Counters statestore.Counters
	Log      *logrus.Entry
	Now      func() time.Time

	Config

	lastAttempt time.Time
}

// Observe processes one poll cycle's snapshot: counters move immediately,
// removal attempts run at the slower cadence. Safe to re-drive every poll.
func (c *Controller) Observe(ctx context.Context, snap *cluster.Snapshot) error {
	if snap == nil {
		return nil
	}

	candidates, err := c.track(snap)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	if !c.lastAttempt.IsZero() && c.now().Sub(c.lastAttempt) < c.Interval {
		return nil
	}

	return c.attemptCleanup(ctx, snap, candidates)
}

// track updates the per-node streak counters and returns the nodes whose
// streak reached the threshold. Any node observed running has its counter
// reset immediately, independent of cadence.
func (c *Controller) track(snap *cluster.Snapshot) ([]cluster.NodeRecord, error) {
	var candidates []cluster.NodeRecord

	for _, node := range snap.Nodes {
		if node.IsRunning() {
			if err := c.Counters.Reset(node.ID); err != nil {
				return nil, err
			}
			continue
		}

		if node.Name == c.NodeName || node.Role == cluster.RoleWitness {
			continue
		}
		if node.Status != cluster.StatusUnreachable && node.Status != cluster.StatusFailed {
			continue
		}

		streak, err := c.Counters.Increment(node.ID)
		if err != nil {
			return nil, err
		}

		if streak >= c.Threshold {
			candidates = append(candidates, node)
		}
	}

	return candidates, nil
}

func (c *Controller) attemptCleanup(ctx context.Context, snap *cluster.Snapshot, candidates []cluster.NodeRecord) error {
	token, err := c.Lock.Acquire(ctx, c.LockTTL)
	if err != nil {
		if errors.Is(err, lease.ErrBusy) {
			c.Log.Infof("cleanup lock busy, deferring to next poll")
			return nil
		}
		return err
	}
	defer func() {
		if releaseErr := c.Lock.Release(ctx, token); releaseErr != nil {
			c.Log.Errorf("could not release cleanup lock: %v", releaseErr)
		}
	}()

	// The cadence window starts only once we actually held the lock; a
	// busy-lock no-op must not burn it.
	c.lastAttempt = c.now()

	primaryHost := snap.Primary
	if primaryHost == "" {
		primaryHost = c.PrimaryHint
	}
	if primaryHost == "" {
		return fmt.Errorf("no primary resolvable for cleanup confirmation and no hint configured")
	}

	// Our local view may be stale; only the primary's own topology view
	// justifies removing a registration.
	fresh, err := c.Remover.SnapshotFrom(ctx, primaryHost)
	if err != nil {
		return fmt.Errorf("could not confirm topology from %v: %v", primaryHost, err)
	}

	for _, candidate := range candidates {
		confirmed, ok := fresh.NodeByName(candidate.Name)
		if ok && confirmed.IsRunning() {
			c.Log.Infof("%v is reachable from the primary, skipping cleanup", candidate.Name)
			if err := c.Counters.Reset(candidate.ID); err != nil {
				return err
			}
			continue
		}

		if err := c.unregister(ctx, candidate); err != nil {
			c.Log.Errorf("could not clean up %v after %v attempts, manual intervention required: %v",
				candidate.Name, c.RetryAttempts, err)
			continue
		}

		c.Log.Infof("removed stale registration of %v", candidate.Name)
		if err := c.Counters.Reset(candidate.ID); err != nil {
			return err
		}
	}

	return nil
}

func (c *Controller) unregister(ctx context.Context, node cluster.NodeRecord) error {
	return retry.Do(
		func() error {
			return c.Remover.Unregister(ctx, node.ID)
		},
		retry.Attempts(c.RetryAttempts),
		retry.Delay(c.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.Log.Warningf("unregister of %v failed, retry %v: %v", node.Name, n, err)
		}),
	)
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
