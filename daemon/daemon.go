package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pgguard/pgguard/align"
	"github.com/pgguard/pgguard/cluster"
	"github.com/pgguard/pgguard/statestore"
)

type Config struct {
	// PollInterval is the cadence of the whole control loop; every
	// subsystem is re-driven from one tick.
	PollInterval time.Duration

	// HealthInterval rate-limits the Info-level health line; between
	// beats health only logs when its level changes.
	HealthInterval time.Duration
}

// Aligner is the role alignment engine as the loop sees it.
type Aligner interface {
	Step(ctx context.Context, snap *cluster.Snapshot) (align.State, error)
}

// Observer is the metadata cleanup controller as the loop sees it.
type Observer interface {
	Observe(ctx context.Context, snap *cluster.Snapshot) error
}

// Daemon is the per-node agent: one single-threaded cooperative polling
// loop, no internal workers. A failed operation degrades the cycle to a
// logged no-op and is retried on the next tick, never crashes the loop.
type Daemon struct {
	Topology  cluster.Provider
	Engine    Aligner
	Cleanup   Observer
	Publisher statestore.Publisher
	Log       *logrus.Entry
	QuitChan  chan int

	Config

	lastHealth    cluster.HealthLevel
	lastHealthLog time.Time
}

func (d *Daemon) Start(ctx context.Context) error {
	tick := time.NewTicker(d.PollInterval)
	defer tick.Stop()

	d.Log.Infof("control loop started, poll interval %v", d.PollInterval)

	for {
		select {
		case <-ctx.Done():
			d.Log.Infof("control loop stopping: %v", ctx.Err())
			return nil
		case <-d.QuitChan:
			d.Log.Infof("control loop stopping: shutdown requested")
			return nil
		case <-tick.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one full poll cycle: oracle, health, publish-on-change, role
// alignment, cleanup tracking.
func (d *Daemon) Tick(ctx context.Context) {
	snap, err := d.Topology.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, cluster.ErrTopologyAmbiguous) {
			// Integrity alarm: never publish or recover against an
			// ambiguous view. Counters also freeze this cycle.
			d.Log.Errorf("split-brain alarm: %v", err)
			return
		}

		d.Log.Warningf("topology unknown this cycle: %v", err)
		snap = nil
	}

	d.reportHealth(snap)

	if snap != nil {
		d.publish(snap)

		state, stepErr := d.Engine.Step(ctx, snap)
		if stepErr != nil {
			d.Log.Errorf("alignment cycle (%v) failed: %v", state, stepErr)
		} else {
			d.Log.Debugf("alignment state: %v", state)
		}
	}

	if err := d.Cleanup.Observe(ctx, snap); err != nil {
		d.Log.Errorf("cleanup cycle failed: %v", err)
	}
}

func (d *Daemon) reportHealth(snap *cluster.Snapshot) {
	health := cluster.Classify(snap)

	changed := health != d.lastHealth
	beat := time.Since(d.lastHealthLog) >= d.HealthInterval
	if changed || beat {
		d.lastHealth = health
		d.lastHealthLog = time.Now()

		switch health {
		case cluster.HealthGreen:
			d.Log.Infof("cluster health: %v", health)
		case cluster.HealthYellow, cluster.HealthUnknown:
			d.Log.Warningf("cluster health: %v", health)
		default:
			d.Log.Errorf("cluster health: %v", health)
		}
	}
}

// publish writes the snapshot through for external consumers; the published
// file is only read back here to notice primary changes, never as a source
// of truth.
func (d *Daemon) publish(snap *cluster.Snapshot) {
	previous, err := d.Publisher.GetPublishedPrimary()
	if err != nil {
		d.Log.Warningf("could not read published cluster state: %v", err)
	}
	if previous != snap.Primary {
		d.Log.Infof("declared primary changed: %q -> %q", previous, snap.Primary)
	}

	if err := d.Publisher.Publish(snap); err != nil {
		d.Log.Errorf("could not publish cluster state: %v", err)
	}
}
