package replmgr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pgguard/pgguard/cluster"
)

// lagUnknownSentinel is what the tool prints when lag is not applicable,
// e.g. for a node it cannot reach.
const lagUnknownSentinel = "n/a"

// CLI shells out to the replication manager binary. Every call is
// synchronous and bounded by its context; a stalled tool stalls one loop
// iteration, nothing else.
type CLI struct {
	Bin        string
	ConfigFile string
	Timeout    time.Duration
	Log        *logrus.Entry
}

func (c *CLI) Snapshot(ctx context.Context) (*cluster.Snapshot, error) {
	return c.snapshot(ctx, "")
}

func (c *CLI) SnapshotFrom(ctx context.Context, host string) (*cluster.Snapshot, error) {
	return c.snapshot(ctx, host)
}

func (c *CLI) snapshot(ctx context.Context, host string) (*cluster.Snapshot, error) {
	args := []string{"cluster", "show", "--csv=false"}
	if host != "" {
		args = append(args, "--host", host)
	}

	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("topology query failed: %v", err)
	}

	return cluster.ParseClusterShow(out, time.Now())
}

func (c *CLI) ReplicationLag(ctx context.Context, nodeName string) (int, bool, error) {
	out, err := c.run(ctx, "node", "lag", "--node-name", nodeName)
	if err != nil {
		return 0, false, fmt.Errorf("lag query for %v failed: %v", nodeName, err)
	}

	raw := strings.TrimSpace(out)
	if raw == "" || strings.EqualFold(raw, lagUnknownSentinel) {
		return 0, false, nil
	}

	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("unparseable lag response %q for %v", raw, nodeName)
	}

	return seconds, true, nil
}

func (c *CLI) Promote(ctx context.Context) error {
	_, err := c.run(ctx, "standby", "promote")
	return err
}

func (c *CLI) Rewind(ctx context.Context, primaryHost string) error {
	_, err := c.run(ctx, "node", "rejoin", "--host", primaryHost, "--force-rewind")
	return err
}

func (c *CLI) Clone(ctx context.Context, primaryHost string) error {
	_, err := c.run(ctx, "standby", "clone", "--host", primaryHost, "--force")
	return err
}

func (c *CLI) RegisterStandby(ctx context.Context, force bool) error {
	args := []string{"standby", "register"}
	if force {
		args = append(args, "--force")
	}

	_, err := c.run(ctx, args...)
	return err
}

func (c *CLI) Unregister(ctx context.Context, nodeID int) error {
	_, err := c.run(ctx, "standby", "unregister", "--node-id", strconv.Itoa(nodeID))
	return err
}

func (c *CLI) run(ctx context.Context, args ...string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	full := append([]string{"-f", c.ConfigFile}, args...)
	cmd := exec.CommandContext(ctx, c.Bin, full...)
	cmd.Env = os.Environ()

	c.Log.Debugf("exec: %v %v", c.Bin, strings.Join(full, " "))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%v %v: %v: %v", c.Bin, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}

	return string(out), nil
}
