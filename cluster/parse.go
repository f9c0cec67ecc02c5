package cluster

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseClusterShow parses the pipe-delimited output of the replication
// manager's cluster status command into a Snapshot. Expected row shape:
//
//	id | name | role | status | upstream | ...
//
// The header row is recognised by its literal first column name and skipped,
// as are separator rows. Malformed rows make the whole parse fail: a partial
// snapshot is worse than no snapshot.
func ParseClusterShow(out string, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{ObservedAt: now}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isSeparator(line) {
			continue
		}

		cols := strings.Split(line, "|")
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}

		if strings.EqualFold(cols[0], "id") {
			continue
		}

		if len(cols) < 4 {
			return nil, fmt.Errorf("malformed topology row %q", line)
		}

		id, err := strconv.Atoi(cols[0])
		if err != nil {
			return nil, fmt.Errorf("malformed node id in row %q: %v", line, err)
		}

		node := NodeRecord{
			ID:     id,
			Name:   cols[1],
			Role:   parseRole(cols[2]),
			Status: parseStatus(cols[3]),
		}
		if len(cols) > 4 {
			node.Upstream = cols[4]
		}
		if len(cols) > 5 {
			// Best effort: not every tool version prints a timeline.
			if timeline, err := strconv.Atoi(cols[5]); err == nil {
				node.Timeline = timeline
			}
		}

		if node.Role == RolePrimary && node.IsRunning() {
			if snap.Primary == "" {
				snap.Primary = node.Name
			} else {
				snap.Ambiguous = true
			}
		}

		snap.Nodes = append(snap.Nodes, node)
	}

	if len(snap.Nodes) == 0 {
		return nil, fmt.Errorf("topology response contained no node rows")
	}

	if snap.Ambiguous {
		return snap, ErrTopologyAmbiguous
	}

	return snap, nil
}

func isSeparator(line string) bool {
	return strings.Trim(line, "-+= ") == ""
}

func parseRole(raw string) Role {
	switch strings.ToLower(raw) {
	case "primary":
		return RolePrimary
	case "standby":
		return RoleStandby
	case "witness":
		return RoleWitness
	default:
		return RoleUnknown
	}
}

// parseStatus matches by substring since the tool decorates statuses with
// markers like "* running" or "? unreachable". "running as primary" must be
// checked before the plain "running" match.
func parseStatus(raw string) Status {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "running as primary"):
		return StatusRunningAsPrimary
	case strings.Contains(s, "unreachable"):
		return StatusUnreachable
	case strings.Contains(s, "failed"):
		return StatusFailed
	case strings.Contains(s, "running"):
		return StatusRunning
	default:
		return StatusUnknown
	}
}
