// Package align keeps a standby following the cluster's declared primary.
// Each poll cycle classifies the local node and, when it has diverged,
// drives one recovery attempt; failed attempts are retried next cycle, not
// looped in place.
package align

import (
	"context"
	"fmt"
)

// State is the per-cycle classification of the local node.
type State string

const (
	StateIsPrimary        State = "is-primary"
	StateFollowing        State = "following-correct-primary"
	StateMisaligned       State = "misaligned"
	StateTimelineConflict State = "timeline-conflict"
	StateRecovering       State = "recovering"
	StateBlocked          State = "blocked"
)

// ErrResyncFailed marks a node whose incremental and full resynchronization
// both failed. It gets a follow block and needs an operator.
var ErrResyncFailed = fmt.Errorf("incremental and full resynchronization both failed, manual intervention required")

// Database is the local instance as the alignment engine sees it.
type Database interface {
	IsRunning() bool
	IsInRecovery(ctx context.Context) (bool, error)
	TimelineID(ctx context.Context) (int, error)
	CurrentUpstream(ctx context.Context) (string, error)
	Stop(mode string) error
	Start() error
	SetUpstream(host string) error
}

// Resyncer is the slice of the replication manager used for recovery.
type Resyncer interface {
	Rewind(ctx context.Context, primaryHost string) error
	Clone(ctx context.Context, primaryHost string) error
	RegisterStandby(ctx context.Context, force bool) error
}

// PromotionTrigger is the fencing gate; alignment never promotes directly.
type PromotionTrigger interface {
	AttemptPromotion(ctx context.Context) error
}
