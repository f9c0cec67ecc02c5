package lease

import (
	"context"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientset "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// Kubernetes implements Lease on a coordination/v1 Lease object. Staleness
// is judged from the stored renewTime against the requested TTL, mirroring
// the filesystem backend's mtime policy.
type Kubernetes struct {
	Resource  string
	Holder    string
	Namespace string

	kubeClient *clientset.Clientset
}

func NewKubernetes(namespace string, config Config) *Kubernetes {
	return &Kubernetes{
		Resource:  config.Resource,
		Holder:    config.Holder,
		Namespace: namespace,
	}
}

func (k *Kubernetes) Connect(ctx context.Context) error {
	config, err := rest.InClusterConfig()
	if err != nil {
		return err
	}

	k.kubeClient = clientset.NewForConfigOrDie(config)
	return nil
}

func (k *Kubernetes) Acquire(ctx context.Context, ttl time.Duration) (*Token, error) {
	leases := k.kubeClient.CoordinationV1().Leases(k.Namespace)
	now := metav1.NewMicroTime(time.Now())
	ttlSeconds := int32(ttl.Seconds())

	existing, err := leases.Get(ctx, k.Resource, metav1.GetOptions{})
	if err != nil {
		if !apierrors.IsNotFound(err) {
			return nil, err
		}

		created := &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{Name: k.Resource, Namespace: k.Namespace},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &k.Holder,
				AcquireTime:          &now,
				RenewTime:            &now,
				LeaseDurationSeconds: &ttlSeconds,
			},
		}
		if _, err := leases.Create(ctx, created, metav1.CreateOptions{}); err != nil {
			if apierrors.IsAlreadyExists(err) {
				return nil, ErrBusy
			}
			return nil, err
		}

		return k.token(), nil
	}

	holder := existing.Spec.HolderIdentity
	if holder != nil && *holder != "" && existing.Spec.RenewTime != nil {
		age := time.Since(existing.Spec.RenewTime.Time)
		if age <= ttl {
			return nil, ErrBusy
		}
	}

	// Vacant or stale: take it over. The resourceVersion in the update
	// makes concurrent takeovers lose with a conflict error.
	existing.Spec.HolderIdentity = &k.Holder
	existing.Spec.AcquireTime = &now
	existing.Spec.RenewTime = &now
	existing.Spec.LeaseDurationSeconds = &ttlSeconds
	if _, err := leases.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return nil, ErrBusy
		}
		return nil, err
	}

	return k.token(), nil
}

func (k *Kubernetes) Release(ctx context.Context, token *Token) error {
	leases := k.kubeClient.CoordinationV1().Leases(k.Namespace)

	existing, err := leases.Get(ctx, k.Resource, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if existing.Spec.HolderIdentity == nil || *existing.Spec.HolderIdentity != token.Holder {
		return nil
	}

	return leases.Delete(ctx, k.Resource, metav1.DeleteOptions{})
}

func (k *Kubernetes) token() *Token {
	return &Token{
		Resource:   k.Resource,
		Holder:     k.Holder,
		AcquiredAt: time.Now(),
		id:         k.Namespace + "/" + k.Resource,
	}
}
