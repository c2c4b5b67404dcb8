package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingFetcher serves fixed content and records the URLs it was asked for.
type recordingFetcher struct {
	mu      sync.Mutex
	content string
	urls    []string
}

func (f *recordingFetcher) Download(_ context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	return io.NopCloser(strings.NewReader(f.content)), nil
}

func (f *recordingFetcher) DownloadToFile(ctx context.Context, url, path string) (int64, error) {
	rc, err := f.Download(ctx, url)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck
	return writeFile(path, rc)
}

func TestResolve_LocalPath(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "grid.xml")
	require.NoError(t, os.WriteFile(p, []byte("<grid/>"), 0o644))

	r := NewResolverWith(Options{}, nil, nil)
	got, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	got, err = r.Resolve(context.Background(), "file://"+p)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestResolve_LocalZip(t *testing.T) {
	t.Parallel()

	zp := createTestZIP(t, t.TempDir(), map[string]string{"download/grid.xml": "<zipped/>"})
	work := t.TempDir()

	r := NewResolverWith(Options{Dir: work}, nil, nil)
	got, err := r.Resolve(context.Background(), zp)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, work))

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "<zipped/>", string(data))

	require.NoError(t, r.Cleanup())
	_, err = os.Stat(got)
	assert.True(t, os.IsNotExist(err))
}

func TestResolve_Remote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		src      string
		wantFile string
		http     bool
	}{
		{"https", "https://earthquake.example/product/us7000abcd/grid.xml", "grid.xml", true},
		{"http no path", "http://earthquake.example", "grid.xml", true},
		{"ftp", "ftp://ftp.example/pager/event.xml", "event.xml", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			hf := &recordingFetcher{content: "<remote/>"}
			ff := &recordingFetcher{content: "<remote/>"}
			r := NewResolverWith(Options{Dir: t.TempDir()}, hf, ff)
			t.Cleanup(func() { _ = r.Cleanup() })

			got, err := r.Resolve(context.Background(), tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFile, filepath.Base(got))

			if tt.http {
				assert.Equal(t, []string{tt.src}, hf.urls)
				assert.Empty(t, ff.urls)
			} else {
				assert.Equal(t, []string{tt.src}, ff.urls)
				assert.Empty(t, hf.urls)
			}
		})
	}
}

func TestResolve_RemoteZip(t *testing.T) {
	t.Parallel()

	zp := createTestZIP(t, t.TempDir(), map[string]string{"us7000abcd/download/grid.xml": "<bundle/>"})
	raw, err := os.ReadFile(zp)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	r := NewResolver(Options{Dir: t.TempDir(), RatePerSecond: 100})
	t.Cleanup(func() { _ = r.Cleanup() })

	got, err := r.Resolve(context.Background(), srv.URL+"/shakemap.zip")
	require.NoError(t, err)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "<bundle/>", string(data))
}

func TestResolve_Errors(t *testing.T) {
	t.Parallel()

	r := NewResolverWith(Options{Dir: t.TempDir()}, &recordingFetcher{content: "not a zip"}, nil)
	t.Cleanup(func() { _ = r.Cleanup() })

	_, err := r.Resolve(context.Background(), "s3://bucket/grid.xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported source")

	_, err = r.Resolve(context.Background(), "https://example.org/bad.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unpack")

	_, err = r.Resolve(context.Background(), "ftp://example.org/grid.xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fetcher")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, "https://example.org/grid.xml")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScheme(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"grid.xml":                   "",
		"/data/grid.xml":             "",
		`C://data/grid.xml`:          "",
		"HTTPS://example.org/g.xml":  "https",
		"ftp://example.org/grid.xml": "ftp",
		"file:///tmp/grid.xml":       "file",
	}
	for in, want := range tests {
		assert.Equal(t, want, scheme(in), in)
	}
}
