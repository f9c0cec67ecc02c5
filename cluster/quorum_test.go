package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuorumAllowsFailover(t *testing.T) {
	witness := func(st Status) NodeRecord {
		return NodeRecord{Role: RoleWitness, Status: st}
	}

	t.Run("standby plus witness is enough", func(t *testing.T) {
		snap := snapOf(
			NodeRecord{Role: RolePrimary, Status: StatusUnreachable},
			standby(2, StatusRunning),
			standby(3, StatusUnreachable),
			witness(StatusRunning),
		)
		assert.True(t, QuorumAllowsFailover(snap))
	})

	t.Run("lone standby is not", func(t *testing.T) {
		snap := snapOf(
			NodeRecord{Role: RolePrimary, Status: StatusFailed},
			standby(2, StatusRunning),
		)
		assert.False(t, QuorumAllowsFailover(snap))
	})

	t.Run("two running standbys", func(t *testing.T) {
		snap := snapOf(
			standby(2, StatusRunning),
			standby(3, StatusRunning),
		)
		assert.True(t, QuorumAllowsFailover(snap))
	})

	t.Run("running primary does not count as voter", func(t *testing.T) {
		snap := snapOf(
			NodeRecord{Role: RolePrimary, Status: StatusRunning},
			standby(2, StatusRunning),
		)
		assert.False(t, QuorumAllowsFailover(snap))
	})

	t.Run("fails open without a snapshot", func(t *testing.T) {
		assert.True(t, QuorumAllowsFailover(nil))
	})
}
