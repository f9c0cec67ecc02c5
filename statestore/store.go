package statestore

import (
	"fmt"
	"strconv"
	"time"
)

// Store is a small per-node key-value area for counters and flags that must
// survive poll cycles but are never contended across nodes.
type Store interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(key string) error
}

// Counters tracks consecutive-unreachable streaks per node id. A counter
// exists only while its node's streak is unbroken.
type Counters struct {
	Store Store
}

func (c Counters) Increment(nodeID int) (int, error) {
	key := counterKey(nodeID)

	current := 0
	raw, ok, err := c.Store.Get(key)
	if err != nil {
		return 0, err
	}
	if ok {
		current, err = strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("corrupt cleanup counter for node %v: %v", nodeID, err)
		}
	}

	current++
	if err := c.Store.Put(key, strconv.Itoa(current)); err != nil {
		return 0, err
	}

	return current, nil
}

func (c Counters) Reset(nodeID int) error {
	return c.Store.Delete(counterKey(nodeID))
}

func counterKey(nodeID int) string {
	return fmt.Sprintf("cleanup-counter/%v", nodeID)
}

// FollowBlocks suppresses repeated resynchronization attempts for a node
// within a cooldown window after a total failure.
type FollowBlocks struct {
	Store    Store
	Cooldown time.Duration
	Now      func() time.Time
}

func (f FollowBlocks) Block(nodeName string) error {
	return f.Store.Put(blockKey(nodeName), strconv.FormatInt(f.now().Unix(), 10))
}

// IsBlocked reports whether nodeName is still inside its cooldown. Expired
// blocks are removed on the way out.
func (f FollowBlocks) IsBlocked(nodeName string) (bool, error) {
	raw, ok, err := f.Store.Get(blockKey(nodeName))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	blockedAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("corrupt follow block for %v: %v", nodeName, err)
	}

	if f.now().Sub(time.Unix(blockedAt, 0)) > f.Cooldown {
		if err := f.Store.Delete(blockKey(nodeName)); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

func (f FollowBlocks) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func blockKey(nodeName string) string {
	return fmt.Sprintf("follow-block/%v", nodeName)
}
