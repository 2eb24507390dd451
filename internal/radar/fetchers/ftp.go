package fetchers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/sony/gobreaker"

	"github.com/servicoscor/dashboard-radares/internal/radar"
)

// DefaultFTPPattern matches the Mendanha radar drops.
const DefaultFTPPattern = `^MDN-.*\.png$`

// ErrFTPNotConfigured is returned when no FTP host is set.
var ErrFTPNotConfigured = errors.New("ftp host is not configured")

// FTPConfig describes the remote drop the delta-sync fetcher reads.
type FTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Path     string
	Pattern  string
	Timeout  time.Duration
}

// Configured reports whether host and credentials are present.
func (c FTPConfig) Configured() bool {
	return c.Host != "" && c.User != ""
}

// RemoteDir is an open listing session on the remote drop.
type RemoteDir interface {
	List() ([]string, error)
	Retrieve(name string) (io.ReadCloser, error)
	Close() error
}

// Dialer opens a RemoteDir.
type Dialer func(ctx context.Context) (RemoteDir, error)

// FTPFetcher downloads only the frames the cache does not already hold,
// restricted to the newest radar.MaxFrames names in the remote listing.
type FTPFetcher struct {
	source  radar.Source
	pattern *regexp.Regexp
	limit   int
	dial    Dialer
	circuit *gobreaker.CircuitBreaker
}

// NewFTPFetcher creates the delta-sync fetcher for cfg.
func NewFTPFetcher(cfg FTPConfig) (*FTPFetcher, error) {
	return NewFTPFetcherWithDialer(cfg.Pattern, ftpDialer(cfg))
}

// NewFTPFetcherWithDialer creates a delta-sync fetcher over an arbitrary
// RemoteDir implementation.
func NewFTPFetcherWithDialer(pattern string, dial Dialer) (*FTPFetcher, error) {
	if pattern == "" {
		pattern = DefaultFTPPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid ftp pattern: %w", err)
	}
	return &FTPFetcher{
		source:  radar.SourceMendanha,
		pattern: re,
		limit:   radar.MaxFrames,
		dial:    dial,
		circuit: newBreaker("ftp"),
	}, nil
}

func (f *FTPFetcher) Source() radar.Source {
	return f.source
}

// Fetch connects, lists and downloads missing frames. Only connection and
// listing failures are returned; a failed download is logged and the rest
// continue.
func (f *FTPFetcher) Fetch(ctx context.Context, cache radar.Cache) error {
	result, err := f.circuit.Execute(func() (interface{}, error) {
		return f.dial(ctx)
	})
	if err != nil {
		return fmt.Errorf("ftp connect: %w", err)
	}
	conn := result.(RemoteDir)
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("ftp: close: %v", err)
		}
	}()

	remote, err := conn.List()
	if err != nil {
		return fmt.Errorf("ftp list: %w", err)
	}
	candidates := f.selectCandidates(remote)

	cached, err := cache.List(f.source)
	if err != nil {
		return fmt.Errorf("list cache: %w", err)
	}
	existing := make(map[string]struct{}, len(cached))
	for _, name := range cached {
		existing[name] = struct{}{}
	}

	downloaded := 0
	for _, name := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := existing[name]; ok {
			continue
		}
		clean, err := radar.SanitizeFilename(name)
		if err != nil || clean != name {
			continue
		}
		if err := f.download(conn, cache, clean); err != nil {
			log.Printf("ftp: error downloading %s: %v", clean, err)
			continue
		}
		downloaded++
		log.Printf("ftp: downloaded %s", clean)
	}

	log.Printf("ftp: %s sync completed: %d new files", f.source, downloaded)
	return nil
}

func (f *FTPFetcher) download(conn RemoteDir, cache radar.Cache, name string) error {
	rc, err := conn.Retrieve(name)
	if err != nil {
		return err
	}
	defer rc.Close()
	return cache.WriteFrame(f.source, name, rc)
}

// selectCandidates keeps names matching the pattern, newest first by name,
// capped at the fetcher's limit. Names are compared by their last path
// element so servers that prefix the directory still sort correctly.
func (f *FTPFetcher) selectCandidates(remote []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(remote))
	for _, entry := range remote {
		name := path.Base(entry)
		if !f.pattern.MatchString(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	if len(out) > f.limit {
		out = out[:f.limit]
	}
	return out
}

// ftpDialer connects with jlaffaye/ftp, logs in and changes into cfg.Path.
// Control and data connections both go through deadlineConn, so every
// command and transfer is bounded by cfg.Timeout and by ctx.
func ftpDialer(cfg FTPConfig) Dialer {
	return func(ctx context.Context) (RemoteDir, error) {
		if cfg.Host == "" {
			return nil, ErrFTPNotConfigured
		}
		port := cfg.Port
		if port == 0 {
			port = 21
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}

		dialer := &net.Dialer{Timeout: timeout}
		dial := func(network, address string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, address)
			if err != nil {
				return nil, err
			}
			return newDeadlineConn(ctx, conn, timeout), nil
		}

		c, err := ftp.Dial(
			net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
			ftp.DialWithDialFunc(dial),
		)
		if err != nil {
			return nil, err
		}
		if err := c.Login(cfg.User, cfg.Password); err != nil {
			c.Quit()
			return nil, err
		}
		if cfg.Path != "" {
			if err := c.ChangeDir(cfg.Path); err != nil {
				c.Quit()
				return nil, err
			}
		}
		return &ftpDir{conn: c}, nil
	}
}

type ftpDir struct {
	conn *ftp.ServerConn
}

func (d *ftpDir) List() ([]string, error) {
	return d.conn.NameList("")
}

func (d *ftpDir) Retrieve(name string) (io.ReadCloser, error) {
	return d.conn.Retr(name)
}

func (d *ftpDir) Close() error {
	return d.conn.Quit()
}

// deadlineConn moves the I/O deadline forward before each read and write,
// never past the context deadline. Cancelling ctx closes the connection.
type deadlineConn struct {
	net.Conn
	ctx     context.Context
	timeout time.Duration
	stop    func() bool
}

func newDeadlineConn(ctx context.Context, conn net.Conn, timeout time.Duration) *deadlineConn {
	return &deadlineConn{
		Conn:    conn,
		ctx:     ctx,
		timeout: timeout,
		stop:    context.AfterFunc(ctx, func() { conn.Close() }),
	}
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.extend(); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.extend(); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

func (c *deadlineConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

func (c *deadlineConn) extend() error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := c.ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return c.Conn.SetDeadline(deadline)
}
