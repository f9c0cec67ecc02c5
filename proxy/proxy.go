// Package proxy shields the control loop from a flapping or dead
// replication manager. Repeated query failures open a circuit breaker and
// further polls answer "topology unknown" immediately instead of hammering
// a tool that is down.
package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pgguard/pgguard/cluster"
)

// ErrTopologyUnavailable wraps everything from tool timeouts to an open
// breaker: the snapshot is Unknown this cycle and will be retried next one.
var ErrTopologyUnavailable = fmt.Errorf("topology is currently unavailable")

type TopologyProxy struct {
	Provider cluster.Provider
	CB       *gobreaker.CircuitBreaker
	Log      *logrus.Entry
}

type queryResult struct {
	snap *cluster.Snapshot
	err  error
}

func (p *TopologyProxy) Snapshot(ctx context.Context) (*cluster.Snapshot, error) {
	return p.execute(func() (*cluster.Snapshot, error) {
		return p.Provider.Snapshot(ctx)
	})
}

func (p *TopologyProxy) SnapshotFrom(ctx context.Context, host string) (*cluster.Snapshot, error) {
	return p.execute(func() (*cluster.Snapshot, error) {
		return p.Provider.SnapshotFrom(ctx, host)
	})
}

func (p *TopologyProxy) execute(query func() (*cluster.Snapshot, error)) (*cluster.Snapshot, error) {
	v, cbErr := p.CB.Execute(func() (interface{}, error) {
		snap, err := query()
		if err != nil && !errors.Is(err, cluster.ErrTopologyAmbiguous) {
			// Tool failure: let the breaker count it.
			return nil, err
		}

		// An ambiguous topology is an integrity alarm, not a tool
		// outage; it must not open the breaker.
		return queryResult{snap: snap, err: err}, nil
	})
	if cbErr != nil {
		if cbErr == gobreaker.ErrOpenState || cbErr == gobreaker.ErrTooManyRequests {
			p.Log.Warningf("topology breaker open, treating snapshot as unknown")
		}
		return nil, fmt.Errorf("%w: %v", ErrTopologyUnavailable, cbErr)
	}

	result := v.(queryResult)
	return result.snap, result.err
}
