// Package fetch downloads HTML documents named in a URL list file into an
// input directory before the pipeline starts.
package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/deepnoodle-ai/distill/retry"
	"golang.org/x/time/rate"
)

// URLListFileName is the conventional name of the URL list inside an input
// directory.
const URLListFileName = "urls.txt"

// LoadURLList reads URLs from a text file, one per line. Blank lines and
// lines starting with '#' are skipped.
func LoadURLList(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open URL list %s: %w", path, err)
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := url.ParseRequestURI(line); err != nil {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL list %s: %w", path, err)
	}
	return urls, nil
}

// DownloaderOptions configures a Downloader.
type DownloaderOptions struct {
	Client  *http.Client
	Limiter *rate.Limiter
	Retry   retry.Options
	Logger  *slog.Logger
}

// Downloader fetches documents with rate limiting and bounded retry.
type Downloader struct {
	client  *http.Client
	limiter *rate.Limiter
	retry   retry.Options
	logger  *slog.Logger
}

// NewDownloader creates a Downloader. Defaults: 30s HTTP timeout, 2
// requests per second, the standard collaborator retry policy.
func NewDownloader(opts DownloaderOptions) *Downloader {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Limit(2), 1)
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Downloader{
		client:  opts.Client,
		limiter: opts.Limiter,
		retry:   opts.Retry,
		logger:  opts.Logger,
	}
}

// Download fetches one URL and returns the response body.
func (d *Downloader) Download(ctx context.Context, rawURL string) (string, error) {
	return retry.DoValue(ctx, d.retry, func(ctx context.Context) (string, error) {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", retry.Permanent(err)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", retry.Recoverable(fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return "", retry.Permanent(fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode))
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	})
}

// DownloadAll fetches every URL into outDir, one file per URL. A failed
// download is logged and skipped; the paths of the files actually written
// are returned.
func (d *Downloader) DownloadAll(ctx context.Context, urls []string, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", outDir, err)
	}
	var paths []string
	for _, rawURL := range urls {
		body, err := d.Download(ctx, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return paths, ctx.Err()
			}
			d.logger.Warn("download failed", "url", rawURL, "error", err)
			continue
		}
		path := filepath.Join(outDir, FileNameForURL(rawURL))
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", path, err)
		}
		d.logger.Info("downloaded", "url", rawURL, "path", path)
		paths = append(paths, path)
	}
	return paths, nil
}

var reUnsafeURLChar = regexp.MustCompile(`[^\w\-.]`)

// FileNameForURL derives a stable .html file name from a URL.
func FileNameForURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return reUnsafeURLChar.ReplaceAllString(rawURL, "_") + ".html"
	}
	name := parsed.Host + parsed.Path
	name = strings.Trim(name, "/")
	if name == "" {
		name = "index"
	}
	name = reUnsafeURLChar.ReplaceAllString(name, "_")
	if !strings.HasSuffix(name, ".html") {
		name += ".html"
	}
	return name
}
