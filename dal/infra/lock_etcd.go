package infra

import (
	"context"
	"math"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdLockStore implementa domain.LockStore com uma transação etcd:
// CreateRevision(key) == 0 -> Put com lease (set-if-absent-with-expiry) e
// Value(key) == token -> Delete (compare-and-delete). Um round trip cada.
type EtcdLockStore struct {
	cli    *clientv3.Client
	prefix string
}

func NewEtcdLockStore(cli *clientv3.Client, prefix string) *EtcdLockStore {
	return &EtcdLockStore{cli: cli, prefix: prefix}
}

func (s *EtcdLockStore) AcquireIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	k := s.prefix + key
	secs := int64(math.Ceil(ttl.Seconds()))
	if secs < 1 {
		secs = 1
	}

	lease, err := s.cli.Grant(ctx, secs)
	if err != nil {
		return false, err
	}

	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, token, clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil || !resp.Succeeded {
		_, _ = s.cli.Revoke(context.WithoutCancel(ctx), lease.ID)
		return false, err
	}
	return true, nil
}

func (s *EtcdLockStore) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	k := s.prefix + key
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(k), "=", token)).
		Then(clientv3.OpDelete(k)).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}
