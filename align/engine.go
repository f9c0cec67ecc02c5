package align

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pgguard/pgguard/cluster"
	"github.com/pgguard/pgguard/fence"
	"github.com/pgguard/pgguard/postgresql"
	"github.com/pgguard/pgguard/statestore"
)

type Engine struct {
	NodeName string

	DB     Database
	Resync Resyncer
	Gate   PromotionTrigger
	Blocks statestore.FollowBlocks
	Log    *logrus.Entry
}

// Step runs one alignment cycle against a fresh snapshot. The snapshot must
// not be nil: an unknown topology is a no-op cycle decided by the caller.
// Errors are cycle-local; the caller logs them and re-drives next poll.
func (e *Engine) Step(ctx context.Context, snap *cluster.Snapshot) (State, error) {
	isInRecovery, err := e.DB.IsInRecovery(ctx)
	if err != nil {
		return StateBlocked, fmt.Errorf("could not resolve local role: %v", err)
	}

	if !isInRecovery {
		// Writable while someone else is the registered primary is a
		// red flag, but auto-demoting here could double-act with the
		// fencing gate. Observe loudly, touch nothing.
		if snap.Primary != "" && snap.Primary != e.NodeName {
			e.Log.Warningf("node is writable but %v is the registered primary, not auto-correcting", snap.Primary)
		}
		return StateIsPrimary, nil
	}

	if snap.Primary == "" {
		e.Log.Warningf("no primary declared in topology, invoking promotion gate")
		if err := e.Gate.AttemptPromotion(ctx); err != nil {
			if refusal, ok := fence.AsRefusal(err); ok {
				e.Log.Infof("promotion refused: %v", refusal)
				return StateRecovering, nil
			}
			return StateRecovering, err
		}
		return StateIsPrimary, nil
	}

	upstream, err := e.DB.CurrentUpstream(ctx)
	if err != nil {
		return StateBlocked, fmt.Errorf("could not resolve current upstream: %v", err)
	}

	if upstream == snap.Primary {
		return StateFollowing, nil
	}

	blocked, err := e.Blocks.IsBlocked(e.NodeName)
	if err != nil {
		return StateBlocked, err
	}
	if blocked {
		e.Log.Debugf("resynchronization for %v is in cooldown, skipping cycle", e.NodeName)
		return StateBlocked, nil
	}

	e.Log.Warningf("misaligned: following %q instead of declared primary %q", upstream, snap.Primary)

	conflict, err := e.hasTimelineConflict(ctx, snap)
	if err != nil {
		return StateMisaligned, err
	}
	if conflict {
		return e.resolveTimelineConflict(ctx, snap.Primary)
	}

	return e.perfectRecovery(ctx, snap.Primary)
}

func (e *Engine) hasTimelineConflict(ctx context.Context, snap *cluster.Snapshot) (bool, error) {
	primaryRec, ok := snap.NodeByName(snap.Primary)
	if !ok || primaryRec.Timeline == 0 {
		return false, nil
	}

	localTimeline, err := e.DB.TimelineID(ctx)
	if err != nil {
		return false, fmt.Errorf("could not read local timeline: %v", err)
	}

	return localTimeline != primaryRec.Timeline, nil
}

// resolveTimelineConflict tries the cheap realignment first and re-clones
// only when that fails. Total failure blocks further attempts for the
// cooldown window.
func (e *Engine) resolveTimelineConflict(ctx context.Context, primary string) (State, error) {
	e.Log.Warningf("timeline conflict with %v, attempting incremental resynchronization", primary)

	if err := e.Resync.Rewind(ctx, primary); err == nil {
		return StateRecovering, nil
	} else {
		e.Log.Warningf("incremental resynchronization failed: %v, falling back to full resynchronization", err)
	}

	if err := e.Resync.Clone(ctx, primary); err == nil {
		return StateRecovering, nil
	} else {
		e.Log.Errorf("full resynchronization failed: %v", err)
	}

	if err := e.Blocks.Block(e.NodeName); err != nil {
		return StateTimelineConflict, err
	}

	return StateTimelineConflict, ErrResyncFailed
}

// perfectRecovery re-points the local standby at the declared primary: stop,
// rewrite the upstream target, start, force re-registration. A failed step
// aborts the rest of the cycle and is retried next poll.
func (e *Engine) perfectRecovery(ctx context.Context, primary string) (State, error) {
	if e.DB.IsRunning() {
		if err := e.DB.Stop(postgresql.StopModeFast); err != nil {
			return StateRecovering, fmt.Errorf("recovery aborted at stop: %v", err)
		}
	}

	if err := e.DB.SetUpstream(primary); err != nil {
		return StateRecovering, fmt.Errorf("recovery aborted at upstream rewrite: %v", err)
	}

	if err := e.DB.Start(); err != nil {
		return StateRecovering, fmt.Errorf("recovery aborted at start: %v", err)
	}

	if err := e.Resync.RegisterStandby(ctx, true); err != nil {
		return StateRecovering, fmt.Errorf("recovery aborted at re-registration: %v", err)
	}

	e.Log.Infof("re-pointed at %v and re-registered as standby", primary)
	return StateRecovering, nil
}
