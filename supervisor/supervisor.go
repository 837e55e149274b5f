// Package supervisor manages a safekeeper subprocess: starting it with
// its expected flags, waiting for its HTTP status endpoint to come up,
// and stopping it with a graceful-then-forced signal sequence. The
// safekeeper's own internals are out of scope for this module; this
// package only drives the process boundary the sync engine and WAL
// receiver sit behind.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/mkos11/neon/cmn"
)

// Config mirrors the safekeeper binary's own flags.
type Config struct {
	BinPath          string
	DataDir          string
	ID               cmn.NodeID
	ListenPG         string // host:port
	ListenHTTP       string // host:port
	Sync             bool   // false sets --no-sync
	BrokerEndpoints  string
	BrokerEtcdPrefix string
	BackupThreads    int
	RemoteStorage    string
}

// Process is a running safekeeper subprocess.
type Process struct {
	cfg Config
	cmd *exec.Cmd
}

func (c Config) args() []string {
	args := []string{
		"-D", c.DataDir,
		"--id", strconv.FormatInt(int64(c.ID), 10),
		"--listen-pg", c.ListenPG,
		"--listen-http", c.ListenHTTP,
		"--recall", "1 second",
		"--daemonize",
	}
	if !c.Sync {
		args = append(args, "--no-sync")
	}
	if c.BrokerEndpoints != "" {
		args = append(args, "--broker-endpoints", c.BrokerEndpoints)
	}
	if c.BrokerEtcdPrefix != "" {
		args = append(args, "--broker-etcd-prefix", c.BrokerEtcdPrefix)
	}
	if c.BackupThreads > 0 {
		args = append(args, "--backup-threads", strconv.Itoa(c.BackupThreads))
	}
	if c.RemoteStorage != "" {
		args = append(args, "--remote-storage", c.RemoteStorage)
	}
	return args
}

func (c Config) pidFile() string { return filepath.Join(c.DataDir, "safekeeper.pid") }

func (c Config) lockFile() string { return filepath.Join(c.DataDir, "safekeeper.lock") }

func (c Config) statusURL() string { return fmt.Sprintf("http://%s/v1/status", c.ListenHTTP) }

// Spawn starts the safekeeper binary and blocks until its status
// endpoint answers or retries are exhausted. It holds an advisory file
// lock on the data directory for the duration, so a concurrent Stop
// against the same directory cannot race the pid file it is about to
// write.
func Spawn(ctx context.Context, cfg Config) (*Process, error) {
	lock := flock.New(cfg.lockFile())
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", cfg.DataDir, err)
	}
	defer lock.Unlock()

	cmd := exec.CommandContext(ctx, cfg.BinPath, cfg.args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, &cmn.ErrTransport{Op: "spawn safekeeper", Err: err}
	}
	p := &Process{cfg: cfg, cmd: cmd}

	const retries = 15
	client := &http.Client{Timeout: 2 * time.Second}
	var lastErr error
	for i := 0; i < retries; i++ {
		resp, err := client.Get(cfg.statusURL())
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 400 {
				return p, nil
			}
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("safekeeper failed to start in %d seconds: %w", retries, lastErr)
}

// Stop sends SIGTERM (or SIGQUIT if immediate) and waits for the pid
// file's process to exit, polling like the original control-plane tool
// does, since the safekeeper itself owns no shutdown RPC.
func Stop(ctx context.Context, cfg Config, immediate bool) error {
	lock := flock.New(cfg.lockFile())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", cfg.DataDir, err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(cfg.pidFile())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	pid, err := strconv.Atoi(trimNewline(string(data)))
	if err != nil {
		return fmt.Errorf("malformed pid file: %w", err)
	}

	sig := syscall.SIGTERM
	if immediate {
		sig = syscall.SIGQUIT
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(sig); err != nil {
		if err == os.ErrProcessDone {
			return nil
		}
		return err
	}

	for i := 0; i < 600; i++ {
		if proc.Signal(syscall.Signal(0)) != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("safekeeper pid %d did not exit", pid)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
