package cluster

// QuorumAllowsFailover decides whether failover is permitted under the
// relaxed quorum policy: at least two running voters besides the lost
// primary (standbys and witnesses both count). A strict majority over all
// registered nodes would deadlock the common two-nodes-plus-witness layout.
//
// When the snapshot could not be obtained at all this fails open: the
// primary is already suspected dead and the promotion gate still fences the
// actual role change. Risky by design, inherited deliberately.
func QuorumAllowsFailover(snap *Snapshot) bool {
	if snap == nil {
		return true
	}

	voters := 0
	for _, n := range snap.Nodes {
		if !n.IsRunning() {
			continue
		}
		if n.Role == RoleStandby || n.Role == RoleWitness {
			voters++
		}
	}

	return voters >= 2
}
