package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pkdindustries/chatbridge/internal/core"
)

const (
	defaultCacheSize = 128
	defaultCacheTTL  = 10 * time.Minute
	defaultMaxBytes  = 20 << 20
)

// Fetcher downloads attachments and turns them into DataURLs. Recent
// downloads are cached since chat history replays the same attachments.
type Fetcher struct {
	client   *http.Client
	cache    *expirable.LRU[string, *DataURL]
	maxBytes int64
	logger   *zap.SugaredLogger
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

func WithCache(size int, ttl time.Duration) Option {
	return func(f *Fetcher) { f.cache = expirable.NewLRU[string, *DataURL](size, nil, ttl) }
}

func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(f *Fetcher) { f.logger = l }
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		cache:    expirable.NewLRU[string, *DataURL](defaultCacheSize, nil, defaultCacheTTL),
		maxBytes: defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = core.GetLogger()
	}
	return f
}

// Fetch resolves url into a DataURL. Data URLs are decoded in place; anything
// else is downloaded and typed from its Content-Type header.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*DataURL, error) {
	if IsDataURL(url) {
		return Decode(url)
	}
	if d, ok := f.cache.Get(url); ok {
		return d, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", url, f.maxBytes)
	}

	mimeType := MediaType(resp.Header.Get("Content-Type"))
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	d := &DataURL{MIMEType: mimeType, Data: body}
	f.cache.Add(url, d)
	return d, nil
}

// FetchAll fetches every url at once. The result keeps input order; failed
// fetches are logged and left out.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []*DataURL {
	if len(urls) == 0 {
		return nil
	}
	results := make([]*DataURL, len(urls))

	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			d, err := f.Fetch(ctx, u)
			if err != nil {
				f.logger.Warnw("Dropping attachment", "url", truncate(u, 80), "error", err)
				return nil
			}
			results[i] = d
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*DataURL, 0, len(results))
	for _, d := range results {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
