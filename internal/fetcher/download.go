package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// Plain files smaller than this are error pages, not data
	minPlainSize = 101
	// Downloads reached through a confirmation page must be larger than this
	minConfirmedSize = 1001
	// HTML shorter than this cannot be a confirmation page
	minInterstitialSize = 501
	maxPageSize         = 4 << 20
)

var gzipMagic = []byte{0x1f, 0x8b}

var (
	confirmPattern = regexp.MustCompile(`confirm=([a-zA-Z0-9\-_]+)`)
	uuidPattern    = regexp.MustCompile(`uuid=([a-zA-Z0-9\-]+)`)
	atPattern      = regexp.MustCompile(`(?:[?&;]|&amp;)at=([^"&\s]+)`)

	downloadURLPattern = regexp.MustCompile(`"downloadUrl":"([^"]*)"`)
	formActionPattern  = regexp.MustCompile(`action="([^"]*uc\?export=download[^"]*)"`)
)

// Variants lists the download URLs tried, in order, for a remote file ID
func (c *Client) Variants(id string) []string {
	q := url.QueryEscape(id)
	return []string{
		fmt.Sprintf("%s/uc?id=%s&export=download", c.baseURL, q),
		fmt.Sprintf("%s/uc?id=%s&export=download&confirm=t", c.baseURL, q),
		fmt.Sprintf("%s/download?id=%s&export=download&authuser=0&confirm=t", c.contentURL, q),
		fmt.Sprintf("%s/uc?export=download&id=%s", c.docsURL, q),
	}
}

// Fetch downloads one file to dest. The file is written to a temp file next
// to dest and renamed into place only once accepted.
func (c *Client) Fetch(ctx context.Context, dest string, f File) error {
	var attempts []string
	lastErr := ErrNotAccepted

	try := func(u string, minSize int64) (bool, []byte) {
		attempts = append(attempts, u)
		ok, page, err := c.download(ctx, u, dest, f.Gzip, minSize)
		if err != nil {
			c.logger.Debug("Download attempt failed", "file", f.Name, "attempt", len(attempts), "error", err)
			lastErr = err
		}
		return ok, page
	}

	primaryMin := int64(minPlainSize)
	if f.Gzip {
		primaryMin = 0
	}

	for _, u := range c.Variants(f.RemoteID) {
		if err := ctx.Err(); err != nil {
			return &RemoteFetchError{File: f.Name, Attempts: attempts, Err: err}
		}

		ok, page := try(u, primaryMin)
		if ok {
			return nil
		}
		if page == nil {
			continue
		}

		c.logger.Debug("Got confirmation page, looking for a direct link", "file", f.Name)
		for _, alt := range c.linksFromPage(f.RemoteID, page) {
			if ok, _ := try(alt, minConfirmedSize); ok {
				return nil
			}
		}

		if c.resolver != nil {
			alt, err := c.resolver.Resolve(ctx, u)
			if err != nil {
				c.logger.Warn("Browser could not resolve confirmation page", "file", f.Name, "error", err)
				continue
			}
			if ok, _ := try(alt, minConfirmedSize); ok {
				return nil
			}
		}
	}

	return &RemoteFetchError{File: f.Name, Attempts: attempts, Err: lastErr}
}

// download performs one GET. It returns accepted=true once the body has been
// written to dest, or the page body when the response was a confirmation page.
func (c *Client) download(ctx context.Context, rawURL, dest string, gzipped bool, minSize int64) (bool, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
		if err != nil {
			return false, nil, fmt.Errorf("failed to read page: %w", err)
		}
		if len(page) < minInterstitialSize {
			return false, nil, ErrNotAccepted
		}
		return false, page, nil
	}

	body := bufio.NewReader(resp.Body)
	if gzipped {
		head, err := body.Peek(len(gzipMagic))
		if err != nil || !bytes.Equal(head, gzipMagic) {
			return false, nil, ErrNotAccepted
		}
	}

	if err := writeAtomic(dest, body, minSize); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

func writeAtomic(dest string, r io.Reader, minSize int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	tmpPath := tmp.Name()

	size, err := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save file: %w", err)
	}

	if size < minSize {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: only %d bytes", ErrNotAccepted, size)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// linksFromPage extracts candidate download URLs from a confirmation page:
// first a URL rebuilt from the confirm/uuid/at tokens, then any direct links
func (c *Client) linksFromPage(id string, page []byte) []string {
	html := string(page)
	var links []string

	if m := confirmPattern.FindStringSubmatch(html); m != nil {
		q := url.Values{}
		q.Set("id", id)
		q.Set("export", "download")
		q.Set("authuser", "0")
		q.Set("confirm", m[1])
		if u := uuidPattern.FindStringSubmatch(html); u != nil {
			q.Set("uuid", u[1])
		}
		if a := atPattern.FindStringSubmatch(html); a != nil {
			q.Set("at", unescapeLink(a[1]))
		}
		links = append(links, c.contentURL+"/download?"+q.Encode())
	}

	direct := regexp.MustCompile(`href="(` + regexp.QuoteMeta(c.contentURL) + `/download[^"]*)"`)
	for _, pattern := range []*regexp.Regexp{direct, downloadURLPattern, formActionPattern} {
		m := pattern.FindStringSubmatch(html)
		if m == nil {
			continue
		}
		link := unescapeLink(m[1])
		if strings.HasPrefix(link, "/") {
			link = c.baseURL + link
		}
		links = append(links, link)
	}

	return dedupe(links)
}

func unescapeLink(s string) string {
	s = strings.ReplaceAll(s, `\u0026`, "&")
	return strings.ReplaceAll(s, "&amp;", "&")
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// IsRemoteFetchError reports whether err came from an exhausted download
func IsRemoteFetchError(err error) bool {
	var target *RemoteFetchError
	return errors.As(err, &target)
}
