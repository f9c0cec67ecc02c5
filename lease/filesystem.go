package lease

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"time"
)

// Filesystem implements Lease on shared storage. The lock is a symlink
// under a well-known name pointing at a per-acquisition instance directory:
// symlink creation is atomic, which gives the exclusive-acquire semantics,
// and the instance directory's modification time drives TTL reclamation.
// Reclamation always operates on the specific instance it observed to be
// stale, never on the well-known name, so a lock acquired in between lives
// under a different instance name and cannot be taken by mistake.
type Filesystem struct {
	Dir      string
	Resource string
	Holder   string

	// writeFile is swappable in tests to exercise write failures.
	writeFile func(name string, data []byte, perm os.FileMode) error
}

func NewFilesystem(dir string, config Config) *Filesystem {
	return &Filesystem{
		Dir:      dir,
		Resource: config.Resource,
		Holder:   config.Holder,
	}
}

func (f *Filesystem) Acquire(ctx context.Context, ttl time.Duration) (*Token, error) {
	instance, err := f.newInstance()
	if err != nil {
		return nil, err
	}

	err = os.Symlink(instance, f.linkPath())
	if os.IsExist(err) {
		if reclaimErr := f.reclaim(ttl); reclaimErr != nil {
			_ = os.RemoveAll(path.Join(f.Dir, instance))
			return nil, reclaimErr
		}
		err = os.Symlink(instance, f.linkPath())
		if os.IsExist(err) {
			// Someone else slipped in between the reclaim and us.
			_ = os.RemoveAll(path.Join(f.Dir, instance))
			return nil, ErrBusy
		}
	}
	if err != nil {
		_ = os.RemoveAll(path.Join(f.Dir, instance))
		return nil, fmt.Errorf("could not create lock %v: %v", f.linkPath(), err)
	}

	return &Token{
		Resource:   f.Resource,
		Holder:     f.Holder,
		AcquiredAt: time.Now(),
		id:         instance,
	}, nil
}

func (f *Filesystem) Release(ctx context.Context, token *Token) error {
	// Renaming our own instance first makes release single-shot: if a
	// reclaimer already took the lock from us, the rename fails and the
	// new holder's link is left alone.
	tombstone := path.Join(f.Dir, token.id+".released")
	if err := os.Rename(path.Join(f.Dir, token.id), tombstone); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer os.RemoveAll(tombstone)

	if err := os.Remove(f.linkPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// newInstance creates this acquisition attempt's instance directory. Its
// name carries the holder, so a failed attempt never touches anyone else's
// state.
func (f *Filesystem) newInstance() (string, error) {
	instance := fmt.Sprintf("%v.instance-%v-%v", f.Resource, f.Holder, time.Now().UnixNano())
	instancePath := path.Join(f.Dir, instance)
	if err := os.Mkdir(instancePath, 0700); err != nil {
		return "", fmt.Errorf("could not create lock instance %v: %v", instancePath, err)
	}

	write := f.writeFile
	if write == nil {
		write = ioutil.WriteFile
	}
	if err := write(path.Join(instancePath, "holder"), []byte(f.Holder), 0600); err != nil {
		_ = os.RemoveAll(instancePath)
		return "", err
	}

	return instance, nil
}

// reclaim frees the lock if the instance it points at has outlived ttl.
// Among concurrent reclaimers exactly one wins the instance rename; the
// losers get ErrBusy. Only the winner may remove the well-known link.
func (f *Filesystem) reclaim(ttl time.Duration) error {
	link := f.linkPath()

	instance, err := os.Readlink(link)
	if err != nil {
		if os.IsNotExist(err) {
			// Released under us; the caller retries the create.
			return nil
		}
		return err
	}
	instancePath := path.Join(f.Dir, instance)

	info, err := os.Stat(instancePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if err == nil {
		if time.Since(info.ModTime()) <= ttl {
			return ErrBusy
		}
		if renameErr := os.Rename(instancePath, instancePath+".reclaimed"); renameErr != nil {
			if os.IsNotExist(renameErr) {
				return ErrBusy
			}
			return renameErr
		}
		defer os.RemoveAll(instancePath + ".reclaimed")
	} else {
		// The instance vanished under us: a peer's reclaim or release is
		// mid-flight, or its owner died between freeing the instance and
		// removing the link. A live peer removes the link on its next
		// step; after a crash the operator has to delete the link by
		// hand, because removing it here by its shared name could hit a
		// successor's link instead.
		if _, readErr := os.Readlink(link); os.IsNotExist(readErr) {
			return nil
		}
		return ErrBusy
	}

	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *Filesystem) linkPath() string {
	return path.Join(f.Dir, f.Resource+".lock")
}
