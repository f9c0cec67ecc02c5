package lease

import (
	"context"
	"fmt"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdLeasePrefix = "/pgguard-lease"

// Etcd implements Lease on top of an etcd lease plus a create-if-absent
// transaction. TTL reclamation is native: etcd expires the key when the
// lease runs out, no mtime inspection needed.
type Etcd struct {
	Resource string
	Holder   string

	cli       *clientv3.Client
	endpoints []string
}

func NewEtcd(endpoints []string, config Config) *Etcd {
	return &Etcd{
		Resource:  config.Resource,
		Holder:    config.Holder,
		endpoints: endpoints,
	}
}

func (e *Etcd) Connect(ctx context.Context) error {
	cli, err := clientv3.New(clientv3.Config{Endpoints: e.endpoints})
	if err != nil {
		return err
	}

	e.cli = cli
	return nil
}

func (e *Etcd) Close() error {
	if e.cli == nil {
		return nil
	}
	return e.cli.Close()
}

func (e *Etcd) Acquire(ctx context.Context, ttl time.Duration) (*Token, error) {
	grant, err := e.cli.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("could not grant lease: %v", err)
	}

	txn, err := e.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(e.key()), "=", 0)).
		Then(clientv3.OpPut(e.key(), e.Holder, clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		return nil, err
	}

	if !txn.Succeeded {
		// Key exists and etcd has not expired it yet: live holder.
		if _, err := e.cli.Revoke(ctx, grant.ID); err != nil {
			return nil, err
		}
		return nil, ErrBusy
	}

	return &Token{
		Resource:   e.Resource,
		Holder:     e.Holder,
		AcquiredAt: time.Now(),
		id:         strconv.FormatInt(int64(grant.ID), 10),
	}, nil
}

func (e *Etcd) Release(ctx context.Context, token *Token) error {
	leaseID, err := strconv.ParseInt(token.id, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed lease token: %v", err)
	}

	// Revoking the lease deletes the key with it.
	if _, err := e.cli.Revoke(ctx, clientv3.LeaseID(leaseID)); err != nil {
		return err
	}

	return nil
}

func (e *Etcd) key() string {
	return fmt.Sprintf("%v/%v", etcdLeasePrefix, e.Resource)
}
