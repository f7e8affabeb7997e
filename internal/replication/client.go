// Package replication implements the polling client that mirrors a master
// database over TCP. The protocol is line-oriented: the client sends
//
//	GET <masterdb> <uuid-hex> <revision>\n
//
// and the master answers either "UNCHANGED\n", or "SNAPSHOT <n>\n" followed
// by n file records (name, size, raw bytes) forming a complete database
// snapshot, which the client writes beside the local database and swaps in
// atomically.
package replication

import (
	"bufio"
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lodestone-search/lodestone/internal/backend"
	"github.com/lodestone-search/lodestone/pkg/errors"
	"github.com/lodestone-search/lodestone/pkg/logger"
	"github.com/lodestone-search/lodestone/pkg/metrics"
)

// Client polls a master for new revisions of one database.
type Client struct {
	Addr     string // host:port
	MasterDB string
	LocalDir string
	Interval time.Duration
	OneShot  bool
	Metrics  *metrics.Metrics

	DialTimeout time.Duration
}

// Run polls until ctx is cancelled (or after one cycle in one-shot mode).
// Network errors in polling mode are logged and retried; any other error
// stops the loop.
func (c *Client) Run(ctx context.Context) error {
	log := logger.WithComponent("replicate")
	limiter := rate.NewLimiter(rate.Every(c.Interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil // cancelled
		}
		updated, err := c.Poll(ctx)
		switch {
		case err == nil:
			outcome := "unchanged"
			if updated {
				outcome = "updated"
			}
			c.count(outcome)
			log.Debug("replication cycle complete", "updated", updated)
		case stderrors.Is(err, errors.ErrNetwork):
			c.count("error")
			if c.OneShot {
				return err
			}
			log.Error("replication cycle failed, will retry", "error", err)
		default:
			c.count("error")
			return err
		}
		if c.OneShot {
			return nil
		}
	}
}

func (c *Client) count(outcome string) {
	if c.Metrics != nil {
		c.Metrics.ReplicationCycles.WithLabelValues(outcome).Inc()
	}
}

// Poll performs one replication cycle, reporting whether the local copy
// advanced.
func (c *Client) Poll(ctx context.Context) (bool, error) {
	uuidHex, revision := c.localState()
	timeout := c.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return false, errors.Newf(errors.ErrNetwork, "connecting to %s: %v", c.Addr, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "GET %s %s %d\n", c.MasterDB, uuidHex, revision); err != nil {
		return false, errors.Newf(errors.ErrNetwork, "sending request: %v", err)
	}
	r := bufio.NewReader(conn)
	header, err := r.ReadString('\n')
	if err != nil {
		return false, errors.Newf(errors.ErrNetwork, "reading response: %v", err)
	}
	header = strings.TrimSpace(header)
	switch {
	case header == "UNCHANGED":
		return false, nil
	case strings.HasPrefix(header, "SNAPSHOT "):
		var n int
		if _, err := fmt.Sscanf(header, "SNAPSHOT %d", &n); err != nil {
			return false, errors.Newf(errors.ErrNetwork, "bad snapshot header %q", header)
		}
		return true, c.receiveSnapshot(r, n)
	}
	return false, errors.Newf(errors.ErrNetwork, "unexpected response %q", header)
}

// localState reads the local database identity, tolerating a missing local
// copy (first sync).
func (c *Client) localState() (string, uint64) {
	db, err := backend.Open(c.LocalDir)
	if err != nil {
		return strings.Repeat("0", 32), 0
	}
	defer db.Close()
	id := db.UUID()
	return fmt.Sprintf("%x", id[:]), db.Revision()
}

// receiveSnapshot streams n files into a sibling directory and renames it
// over the local database once complete, so a torn transfer never replaces
// a good copy.
func (c *Client) receiveSnapshot(r *bufio.Reader, n int) error {
	tmp := c.LocalDir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return errors.Newf(errors.ErrDatabaseIO, "clearing %s: %v", tmp, err)
	}
	if err := os.MkdirAll(tmp, 0777); err != nil {
		return errors.Newf(errors.ErrDatabaseIO, "creating %s: %v", tmp, err)
	}
	var transferred int64
	for i := 0; i < n; i++ {
		nameLine, err := r.ReadString('\n')
		if err != nil {
			return errors.Newf(errors.ErrNetwork, "reading file name: %v", err)
		}
		name := strings.TrimSpace(nameLine)
		if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
			return errors.Newf(errors.ErrNetwork, "illegal file name %q in snapshot", name)
		}
		var size uint64
		var sizeBuf [8]byte
		if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
			return errors.Newf(errors.ErrNetwork, "reading file size: %v", err)
		}
		size = binary.BigEndian.Uint64(sizeBuf[:])
		f, err := os.OpenFile(filepath.Join(tmp, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			return errors.Newf(errors.ErrDatabaseIO, "creating %s: %v", name, err)
		}
		if _, err := io.CopyN(f, r, int64(size)); err != nil {
			f.Close()
			return errors.Newf(errors.ErrNetwork, "receiving %s: %v", name, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return errors.Newf(errors.ErrDatabaseIO, "syncing %s: %v", name, err)
		}
		f.Close()
		transferred += int64(size)
	}
	if c.Metrics != nil {
		c.Metrics.ReplicationLagBytes.Set(float64(transferred))
	}
	old := c.LocalDir + ".old"
	os.RemoveAll(old)
	if _, err := os.Stat(c.LocalDir); err == nil {
		if err := os.Rename(c.LocalDir, old); err != nil {
			return errors.Newf(errors.ErrDatabaseIO, "moving old copy aside: %v", err)
		}
	}
	if err := os.Rename(tmp, c.LocalDir); err != nil {
		return errors.Newf(errors.ErrDatabaseIO, "installing snapshot: %v", err)
	}
	os.RemoveAll(old)
	return nil
}
