package cluster

import (
	"context"
	"fmt"
	"time"
)

type Role string

const (
	RolePrimary Role = "primary"
	RoleStandby Role = "standby"
	RoleWitness Role = "witness"
	RoleUnknown Role = "unknown"
)

type Status string

const (
	StatusRunning          Status = "running"
	StatusRunningAsPrimary Status = "running_as_primary"
	StatusUnreachable      Status = "unreachable"
	StatusFailed           Status = "failed"
	StatusUnknown          Status = "unknown"
)

// ErrTopologyAmbiguous is raised when more than one node reports itself as a
// running primary. Callers must not publish or act on either primary.
var ErrTopologyAmbiguous = fmt.Errorf("topology ambiguous: more than one running primary reported")

// NodeRecord is one row of the replication manager's cluster view. Records
// are rebuilt on every poll and never mutated in place.
type NodeRecord struct {
	ID       int
	Name     string
	Role     Role
	Status   Status
	Upstream string

	// Timeline is the WAL timeline the tool reports for the node, zero
	// when the column is absent or unparseable.
	Timeline int

	// LagSeconds is only meaningful when LagKnown is true.
	LagSeconds int
	LagKnown   bool
}

// IsRunning reports whether the node answered its last status probe.
func (n NodeRecord) IsRunning() bool {
	return n.Status == StatusRunning || n.Status == StatusRunningAsPrimary
}

// Snapshot is one parsed topology observation. Primary holds the first node
// reported as a running primary; when Ambiguous is set there was more than
// one and Primary must be treated as informational only.
type Snapshot struct {
	Primary    string
	Nodes      []NodeRecord
	ObservedAt time.Time
	Ambiguous  bool
}

// NodeByName returns the record for name, if present.
func (s *Snapshot) NodeByName(name string) (NodeRecord, bool) {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeRecord{}, false
}

// RunningStandbys returns the standby nodes currently answering probes.
func (s *Snapshot) RunningStandbys() []NodeRecord {
	var out []NodeRecord
	for _, n := range s.Nodes {
		if n.Role == RoleStandby && n.IsRunning() {
			out = append(out, n)
		}
	}
	return out
}

// Provider is the cluster state oracle. A nil snapshot with a non-nil error
// means the topology is unknown this cycle; implementations never return a
// partial snapshot.
type Provider interface {
	// Snapshot queries the replication manager local to this node.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// SnapshotFrom queries the topology as seen from host, used to confirm
	// a suspicion against a fresher view before destructive actions.
	SnapshotFrom(ctx context.Context, host string) (*Snapshot, error)
}
