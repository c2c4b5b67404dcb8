// Package fetcher turns a ShakeMap source (a local path, an http(s) or ftp
// URL, or a zip archive) into a grid file on local disk.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Options configures a Resolver.
type Options struct {
	// Dir is where downloads and extracted grids are written. Empty means
	// the system temp directory.
	Dir           string
	UserAgent     string
	Timeout       time.Duration
	RatePerSecond float64
	MaxRetries    int
	// GridName is the file looked up inside zip archives. Default: grid.xml.
	GridName string
}

// Resolver maps grid sources to local files.
type Resolver struct {
	dir      string
	gridName string
	http     Fetcher
	ftp      Fetcher

	mu       sync.Mutex
	workDirs []string
}

// NewResolver builds a Resolver with an HTTPFetcher and an FTPFetcher.
func NewResolver(opts Options) *Resolver {
	return NewResolverWith(opts,
		NewHTTPFetcher(HTTPOptions{
			UserAgent:     opts.UserAgent,
			Timeout:       opts.Timeout,
			MaxRetries:    opts.MaxRetries,
			RatePerSecond: opts.RatePerSecond,
		}),
		NewFTPFetcher(FTPOptions{Timeout: opts.Timeout}),
	)
}

// NewResolverWith builds a Resolver around the given fetchers.
func NewResolverWith(opts Options, httpFetcher, ftpFetcher Fetcher) *Resolver {
	if opts.GridName == "" {
		opts.GridName = "grid.xml"
	}
	return &Resolver{
		dir:      opts.Dir,
		gridName: opts.GridName,
		http:     httpFetcher,
		ftp:      ftpFetcher,
	}
}

// Resolve returns a local path holding the grid named by src. Remote
// sources are downloaded and zip archives are unpacked into a fresh work
// directory that Cleanup removes.
func (r *Resolver) Resolve(ctx context.Context, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	local := src
	var f Fetcher
	remote := true
	switch scheme(src) {
	case "http", "https":
		f = r.http
	case "ftp":
		f = r.ftp
	case "", "file":
		local = strings.TrimPrefix(src, "file://")
		remote = false
	default:
		return "", eris.Errorf("fetcher: unsupported source %q", src)
	}

	if remote {
		if f == nil {
			return "", eris.Errorf("fetcher: no fetcher for %q", src)
		}
		dir, err := r.workDir()
		if err != nil {
			return "", err
		}
		local = filepath.Join(dir, remoteName(src, r.gridName))
		n, err := f.DownloadToFile(ctx, src, local)
		if err != nil {
			return "", eris.Wrapf(err, "fetcher: download %s", src)
		}
		zap.L().Debug("fetcher: downloaded grid",
			zap.String("source", src),
			zap.String("path", local),
			zap.Int64("bytes", n),
		)
	}

	if !strings.EqualFold(filepath.Ext(local), ".zip") {
		return local, nil
	}

	dir, err := r.workDir()
	if err != nil {
		return "", err
	}
	out, err := ExtractFile(local, r.gridName, dir)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: unpack %s", src)
	}
	return out, nil
}

// Cleanup removes every work directory created by Resolve.
func (r *Resolver) Cleanup() error {
	r.mu.Lock()
	dirs := r.workDirs
	r.workDirs = nil
	r.mu.Unlock()

	var firstErr error
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil && firstErr == nil {
			firstErr = eris.Wrap(err, "fetcher: remove work dir")
		}
	}
	return firstErr
}

func (r *Resolver) workDir() (string, error) {
	if r.dir != "" {
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			return "", eris.Wrap(err, "fetcher: create dir")
		}
	}
	d, err := os.MkdirTemp(r.dir, "quakeloss-*")
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create work dir")
	}
	r.mu.Lock()
	r.workDirs = append(r.workDirs, d)
	r.mu.Unlock()
	return d, nil
}

// scheme returns the lower-cased URL scheme of src, or "" for plain paths.
// Single-letter schemes are Windows drive letters.
func scheme(src string) string {
	i := strings.Index(src, "://")
	if i <= 1 {
		return ""
	}
	return strings.ToLower(src[:i])
}

// remoteName picks a local file name for a downloaded source.
func remoteName(src, fallback string) string {
	u, err := url.Parse(src)
	if err != nil {
		return fallback
	}
	base := path.Base(u.Path)
	if base == "" || base == "/" || base == "." {
		return fallback
	}
	return base
}
