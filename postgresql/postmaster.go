package postgresql

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// Postmaster controls and observes the database instance local to this
// node. Everything here mutates only the local replica; cluster-wide
// operations go through the replication manager instead.
type Postmaster struct {
	Config
	Log *logrus.Entry

	conn *pgx.Conn
}

func (p *Postmaster) IsRunning() bool {
	cmd := exec.Command("pg_ctl", "status", "-D", p.DataDir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run() == nil
}

func (p *Postmaster) Start() error {
	cmd := exec.Command("pg_ctl", "start", "-w", "-D", p.DataDir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (p *Postmaster) Stop(mode string) error {
	cmd := exec.Command("pg_ctl", "stop", "-w", "-D", p.DataDir, "-m", mode)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("could not stop postgres: %v", err)
	}

	p.dropConn()
	return nil
}

// IsInRecovery reports whether the local database is a replica. A database
// we cannot even connect to is not "in recovery", it is unavailable, and
// that is an error here.
func (p *Postmaster) IsInRecovery(ctx context.Context) (bool, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return false, err
	}

	var isInRecovery bool
	if err := conn.QueryRow(ctx, "select pg_is_in_recovery()").Scan(&isInRecovery); err != nil {
		p.dropConn()
		return false, err
	}

	return isInRecovery, nil
}

// TimelineID returns the timeline the local instance is on, used to detect
// divergence from the declared primary.
func (p *Postmaster) TimelineID(ctx context.Context) (int, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return 0, err
	}

	var timeline int
	if err := conn.QueryRow(ctx, "select timeline_id from pg_control_checkpoint()").Scan(&timeline); err != nil {
		p.dropConn()
		return 0, err
	}

	return timeline, nil
}

// CurrentUpstream returns the host this standby is actually streaming from,
// empty when no WAL receiver is active.
func (p *Postmaster) CurrentUpstream(ctx context.Context) (string, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return "", err
	}

	var host string
	err = conn.QueryRow(ctx, "select coalesce(sender_host, '') from pg_stat_wal_receiver limit 1").Scan(&host)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		p.dropConn()
		return "", err
	}

	return host, nil
}

// ProbeLiveness answers whether the database at host accepts connections
// and trivial queries. This is the split-brain check's "is the old primary
// actually alive" probe.
func (p *Postmaster) ProbeLiveness(ctx context.Context, host string) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := pgx.Connect(probeCtx, p.connString(host))
	if err != nil {
		return err
	}
	defer conn.Close(probeCtx)

	var one int
	return conn.QueryRow(probeCtx, "select 1").Scan(&one)
}

func (p *Postmaster) ConnectWithRetry(ctx context.Context, retries uint) (*pgx.Conn, error) {
	var conn *pgx.Conn
	err := retry.Do(
		func() error {
			connTry, err := p.connect(ctx)
			if err != nil {
				return err
			}

			conn = connTry
			return nil
		},
		retry.Attempts(retries),
		retry.OnRetry(func(n uint, err error) {
			p.Log.Warningf("postgres not ready, retry %v: %v", n, err)
		}),
	)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (p *Postmaster) connect(ctx context.Context) (*pgx.Conn, error) {
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}

	conn, err := pgx.Connect(ctx, p.connString("localhost"))
	if err != nil {
		return nil, err
	}

	p.conn = conn
	return conn, nil
}

func (p *Postmaster) dropConn() {
	if p.conn != nil {
		_ = p.conn.Close(context.Background())
		p.conn = nil
	}
}

func (p *Postmaster) connString(host string) string {
	return fmt.Sprintf(
		"postgres://%v:%v@%v:%v/postgres",
		p.AdminUsername,
		p.AdminPassword,
		host,
		p.Port,
	)
}
