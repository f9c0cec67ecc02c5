package lease

import (
	"context"
	"fmt"
	"time"
)

// ErrBusy is returned by Acquire when another holder owns the lease and its
// TTL has not yet expired.
var ErrBusy = fmt.Errorf("lease is held by another node")

// Token proves ownership of an acquired lease. The id field carries
// backend-specific bookkeeping.
type Token struct {
	Resource   string
	Holder     string
	AcquiredAt time.Time

	id string
}

// Lease is an exclusively-acquirable cluster-wide resource with TTL-based
// staleness reclamation. There is no holder heartbeat: a holder that crashes
// simply lets its lease age past the TTL, after which any node may reclaim
// it. Backed by shared storage all nodes can see.
type Lease interface {
	// Acquire atomically takes the lease for ttl. A lease whose previous
	// holder let it age past its TTL is reclaimed; a live one yields ErrBusy.
	Acquire(ctx context.Context, ttl time.Duration) (*Token, error)

	// Release gives the lease up. Releasing a token that was already
	// reclaimed by someone else is a no-op, not an error.
	Release(ctx context.Context, token *Token) error
}

type Config struct {
	Resource string
	Holder   string
}
