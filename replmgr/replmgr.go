// Package replmgr adapts the external replication manager CLI. This control
// plane never reimplements replication mechanics: it only asks the tool for
// topology and tells it when to promote, rewind, clone or (un)register.
package replmgr

import (
	"context"

	"github.com/pgguard/pgguard/cluster"
)

// Manager is everything the control plane needs from the replication
// manager. The in-memory Fake implements it for tests.
type Manager interface {
	cluster.Provider

	// ReplicationLag reports how many seconds nodeName is behind the
	// primary. known is false when the tool answers with its
	// not-applicable sentinel.
	ReplicationLag(ctx context.Context, nodeName string) (seconds int, known bool, err error)

	// Promote transitions the local standby to primary. Blocking; success
	// means the local database now accepts writes.
	Promote(ctx context.Context) error

	// Rewind incrementally resynchronizes the local node onto the
	// primary's timeline.
	Rewind(ctx context.Context, primaryHost string) error

	// Clone recreates the local data directory from the primary.
	Clone(ctx context.Context, primaryHost string) error

	// RegisterStandby (re)registers the local node as a standby.
	RegisterStandby(ctx context.Context, force bool) error

	// Unregister removes a dead node's registration from the cluster
	// metadata.
	Unregister(ctx context.Context, nodeID int) error
}
