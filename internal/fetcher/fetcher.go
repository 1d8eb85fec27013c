// Package fetcher downloads raw data files from the public file host. Each
// file is tried against a fixed list of URL variants; virus-scan
// confirmation pages are parsed for a direct link, and optionally opened in a
// headless browser.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/JustJay7/juvenile-rep-analytics/internal/config"
	"github.com/JustJay7/juvenile-rep-analytics/pkg/logger"
)

// ErrNotAccepted means a response was not a usable copy of the file
var ErrNotAccepted = errors.New("response is not a usable file")

// File is one file to download
type File struct {
	Name     string
	RemoteID string
	Gzip     bool
}

// Status is the download state of one file
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusSkipped     Status = "skipped"
	StatusFailed      Status = "failed"
)

// RemoteFetchError is returned when every URL variant for a file failed
type RemoteFetchError struct {
	File     string
	Attempts []string
	Err      error
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s after %d attempts: %v", e.File, len(e.Attempts), e.Err)
}

func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}

// Report summarises one FetchAll call
type Report struct {
	Downloaded []string          `json:"downloaded"`
	Skipped    []string          `json:"skipped"`
	Failed     []string          `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Usable reports whether at least one file is now present locally
func (r *Report) Usable() bool {
	return len(r.Downloaded)+len(r.Skipped) > 0
}

// Resolver turns a confirmation page into a direct download URL
type Resolver interface {
	Resolve(ctx context.Context, pageURL string) (string, error)
}

// Client downloads files from the file host
type Client struct {
	http       *http.Client
	userAgent  string
	baseURL    string
	contentURL string
	docsURL    string
	workers    int
	logger     *logger.Logger
	resolver   Resolver
	status     *xsync.Map[string, Status]
}

// NewClient creates a client from configuration
func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}

	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	workers := cfg.MaxConcurrentDownloads
	if workers < 1 {
		workers = 1
	}

	return &Client{
		http:       &http.Client{Timeout: timeout},
		userAgent:  cfg.UserAgent,
		baseURL:    strings.TrimRight(cfg.RemoteBaseURL, "/"),
		contentURL: strings.TrimRight(cfg.RemoteContentURL, "/"),
		docsURL:    strings.TrimRight(cfg.RemoteDocsURL, "/"),
		workers:    workers,
		logger:     log,
		status:     xsync.NewMap[string, Status](),
	}
}

// WithResolver enables the headless browser fallback for confirmation pages
func (c *Client) WithResolver(r Resolver) *Client {
	c.resolver = r
	return c
}

// Statuses returns the last known state of every file seen by this client
func (c *Client) Statuses() map[string]Status {
	out := make(map[string]Status)
	c.status.Range(func(name string, s Status) bool {
		out[name] = s
		return true
	})
	return out
}

// FetchAll downloads the given files into dir on a bounded pool. Files already
// present are skipped unless force is set. A file that cannot be fetched is
// logged and reported as failed; the only error returned is for an unusable
// destination directory.
func (c *Client) FetchAll(ctx context.Context, dir string, files []File, force bool) (*Report, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	for _, f := range files {
		c.status.Store(f.Name, StatusPending)
	}

	failures := xsync.NewMap[string, error]()

	pool := pond.NewPool(c.workers)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, f := range files {
		f := f
		group.Submit(func() {
			dest := filepath.Join(dir, f.Name)

			if !force && exists(dest) {
				c.logger.Info("Raw file already present, skipping", "file", f.Name)
				c.status.Store(f.Name, StatusSkipped)
				return
			}

			if err := groupCtx.Err(); err != nil {
				failures.Store(f.Name, err)
				c.status.Store(f.Name, StatusFailed)
				return
			}

			c.status.Store(f.Name, StatusDownloading)
			start := time.Now()

			if err := c.Fetch(groupCtx, dest, f); err != nil {
				if IsRemoteFetchError(err) {
					c.logger.Warn("Raw file unavailable from every URL variant", "file", f.Name, "error", err)
				} else {
					c.logger.Error("Failed to download raw file", "file", f.Name, "error", err)
				}
				failures.Store(f.Name, err)
				c.status.Store(f.Name, StatusFailed)
				return
			}

			c.logger.Info("Raw file downloaded",
				"file", f.Name,
				"duration", time.Since(start).String(),
			)
			c.status.Store(f.Name, StatusDownloaded)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		c.logger.Warn("Download group finished with error", "error", err)
	}

	report := &Report{Errors: map[string]string{}}
	for _, f := range files {
		s, _ := c.status.Load(f.Name)
		switch s {
		case StatusDownloaded:
			report.Downloaded = append(report.Downloaded, f.Name)
		case StatusSkipped:
			report.Skipped = append(report.Skipped, f.Name)
		default:
			report.Failed = append(report.Failed, f.Name)
			if err, ok := failures.Load(f.Name); ok {
				report.Errors[f.Name] = err.Error()
			}
		}
	}
	sort.Strings(report.Downloaded)
	sort.Strings(report.Skipped)
	sort.Strings(report.Failed)

	c.logger.Info("Download summary",
		"downloaded", len(report.Downloaded),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)

	return report, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
