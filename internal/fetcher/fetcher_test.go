package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JustJay7/juvenile-rep-analytics/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const fileID = "file-123"

var csvBody = strings.Repeat("IDNCASE,NAT\n1,GT\n", 100)

var interstitialFiller = strings.Repeat("<p>This file is too large to scan for viruses.</p>\n", 20)

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(&config.Config{
		RemoteBaseURL:          srv.URL,
		RemoteContentURL:       srv.URL + "/",
		RemoteDocsURL:          srv.URL,
		MaxConcurrentDownloads: 2,
		UserAgent:              "test-agent",
	}, nil)
}

func TestVariants(t *testing.T) {
	c := NewClient(&config.Config{
		RemoteBaseURL:    "https://files.example.com/",
		RemoteContentURL: "https://content.example.com",
		RemoteDocsURL:    "https://docs.example.com",
	}, nil)

	assert.Equal(t, []string{
		"https://files.example.com/uc?id=a+b&export=download",
		"https://files.example.com/uc?id=a+b&export=download&confirm=t",
		"https://content.example.com/download?id=a+b&export=download&authuser=0&confirm=t",
		"https://docs.example.com/uc?export=download&id=a+b",
	}, c.Variants("a b"))
}

func TestFetchAllDownloadsGzip(t *testing.T) {
	payload := gzipBytes(t, csvBody)
	var agent atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		assert.Equal(t, fileID, r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(payload)
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "cache")
	c := newTestClient(srv)

	report, err := c.FetchAll(context.Background(), dir, []File{{Name: "cases.csv.gz", RemoteID: fileID, Gzip: true}}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"cases.csv.gz"}, report.Downloaded)
	assert.Empty(t, report.Failed)
	assert.True(t, report.Usable())
	assert.Equal(t, "test-agent", agent.Load())

	got, err := os.ReadFile(filepath.Join(dir, "cases.csv.gz"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, map[string]Status{"cases.csv.gz": StatusDownloaded}, c.Statuses())
}

func TestFetchFollowsConfirmationPage(t *testing.T) {
	page := `<html><body>` + interstitialFiller +
		`<a href="/uc?export=download&amp;confirm=abc123&amp;id=` + fileID + `">Download anyway</a>` +
		`<input type="hidden" name="uuid" value="x"> uuid=u-1 </body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path == "/download" && q.Get("confirm") == "abc123" && q.Get("uuid") == "u-1" {
			w.Header().Set("Content-Type", "text/csv")
			w.Write([]byte(csvBody))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "tblDecCode.csv")
	err := newTestClient(srv).Fetch(context.Background(), dest, File{Name: "tblDecCode.csv", RemoteID: fileID})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, csvBody, string(got))
}

type fakeResolver struct {
	target string
	calls  atomic.Int32
}

func (r *fakeResolver) Resolve(ctx context.Context, pageURL string) (string, error) {
	r.calls.Add(1)
	return r.target, nil
}

func TestFetchUsesResolverWhenPageHasNoLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/resolved" {
			w.Header().Set("Content-Type", "text/csv")
			w.Write([]byte(csvBody))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>" + interstitialFiller + "</html>"))
	}))
	defer srv.Close()

	resolver := &fakeResolver{target: srv.URL + "/resolved"}
	c := newTestClient(srv).WithResolver(resolver)

	dest := filepath.Join(t.TempDir(), "lookup.csv")
	require.NoError(t, c.Fetch(context.Background(), dest, File{Name: "lookup.csv", RemoteID: fileID}))
	assert.Equal(t, int32(1), resolver.calls.Load())
}

func TestFetchAllReportsFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := newTestClient(srv)

	report, err := c.FetchAll(context.Background(), dir, []File{{Name: "cases.csv.gz", RemoteID: fileID, Gzip: true}}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"cases.csv.gz"}, report.Failed)
	assert.Contains(t, report.Errors["cases.csv.gz"], "404")
	assert.False(t, report.Usable())
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, StatusFailed, c.Statuses()["cases.csv.gz"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchReturnsRemoteFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Quota exceeded"))
	}))
	defer srv.Close()

	err := newTestClient(srv).Fetch(context.Background(), filepath.Join(t.TempDir(), "x.csv.gz"), File{Name: "x.csv.gz", RemoteID: fileID, Gzip: true})

	require.Error(t, err)
	assert.True(t, IsRemoteFetchError(err))
	assert.True(t, errors.Is(err, ErrNotAccepted))

	var fetchErr *RemoteFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "x.csv.gz", fetchErr.File)
	assert.Len(t, fetchErr.Attempts, 4)
}

func TestFetchRejectsTinyPlainFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("strCode\n"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "tiny.csv")
	err := newTestClient(srv).Fetch(context.Background(), dest, File{Name: "tiny.csv", RemoteID: fileID})

	assert.ErrorIs(t, err, ErrNotAccepted)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchAllSkipsExistingFiles(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(csvBody))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "tblDecCode.csv")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0644))

	c := newTestClient(srv)
	files := []File{{Name: "tblDecCode.csv", RemoteID: fileID}}

	report, err := c.FetchAll(context.Background(), dir, files, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"tblDecCode.csv"}, report.Skipped)
	assert.True(t, report.Usable())
	assert.Zero(t, hits.Load())

	report, err = c.FetchAll(context.Background(), dir, files, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"tblDecCode.csv"}, report.Downloaded)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, csvBody, string(got))
}

func TestFetchAllCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(csvBody))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestClient(srv).FetchAll(ctx, t.TempDir(), []File{{Name: "a.csv", RemoteID: fileID}}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv"}, report.Failed)
}

func TestLinksFromPage(t *testing.T) {
	c := NewClient(&config.Config{
		RemoteBaseURL:    "https://files.example.com",
		RemoteContentURL: "https://content.example.com",
	}, nil)

	page := []byte(`<form action="/uc?export=download&amp;id=abc&amp;confirm=xyz" method="post">` +
		`{"downloadUrl":"https://content.example.com/download?id=abc\u0026export=download\u0026confirm=t"}` +
		`<a href="https://content.example.com/download?id=abc&amp;export=download&amp;confirm=t">go</a>`)

	links := c.linksFromPage("abc", page)

	assert.Equal(t, []string{
		"https://content.example.com/download?authuser=0&confirm=xyz&export=download&id=abc",
		"https://content.example.com/download?id=abc&export=download&confirm=t",
		"https://files.example.com/uc?export=download&id=abc&confirm=xyz",
	}, links)
}
