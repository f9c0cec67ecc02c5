// Package fence arbitrates which standby may become primary. The gate is
// the only path to a promotion and holds the cluster-wide promotion lock
// for its whole critical section, so at most one node anywhere runs the
// checks-and-promote sequence at a time.
package fence

import (
	"context"
	"fmt"
)

type Reason string

const (
	ReasonLockTimeout            Reason = "lock-timeout"
	ReasonNoQuorum               Reason = "no-quorum"
	ReasonTopologyAmbiguous      Reason = "topology-ambiguous"
	ReasonExistingPrimary        Reason = "existing-primary-reachable"
	ReasonNotReady               Reason = "not-ready"
	ReasonInsufficientVisibility Reason = "insufficient-visibility"
	ReasonNotBestCandidate       Reason = "not-best-candidate"
	ReasonLagUnknown             Reason = "lag-unknown"
	ReasonLagTooHigh             Reason = "lag-too-high"
)

// Refusal is the gate's "no" answer. Lock timeouts and candidate refusals
// may be retried on a later trigger; split-brain style refusals need the
// cluster condition itself to change first.
type Refusal struct {
	Reason Reason
	Detail string
}

func (r *Refusal) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("promotion refused: %v", r.Reason)
	}
	return fmt.Sprintf("promotion refused: %v: %v", r.Reason, r.Detail)
}

func refused(reason Reason, format string, args ...interface{}) *Refusal {
	return &Refusal{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsRefusal unwraps err into a Refusal if it is one.
func AsRefusal(err error) (*Refusal, bool) {
	r, ok := err.(*Refusal)
	return r, ok
}

// LocalNode is what the gate needs to know about the database on this node.
type LocalNode interface {
	IsRunning() bool
	IsInRecovery(ctx context.Context) (bool, error)
	ProbeLiveness(ctx context.Context, host string) error
}

// Promoter invokes the replication manager's promote operation.
type Promoter interface {
	Promote(ctx context.Context) error
}

// LagReader answers replication lag per node; known is false when the tool
// reports its not-applicable sentinel.
type LagReader interface {
	ReplicationLag(ctx context.Context, nodeName string) (seconds int, known bool, err error)
}
