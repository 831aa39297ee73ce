package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsCache checks robots.txt permission per origin, caching parsed rule
// sets for the process lifetime. Every failure mode fails open: a robots
// problem must never stall the crawl.
type RobotsCache struct {
	client    *http.Client
	userAgent string
	respect   bool
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData // nil value means "absent"
}

// NewRobotsCache builds a RobotsCache. When respect is false every lookup
// is allowed and logged as a warning.
func NewRobotsCache(client *http.Client, userAgent string, respect bool, logger *zap.Logger) *RobotsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &RobotsCache{
		client:    client,
		userAgent: userAgent,
		respect:   respect,
		logger:    logger,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// CanFetch reports whether the crawler may fetch rawURL. The cache lock is
// never held across the network fetch; concurrent misses on the same origin
// may fetch twice, which is acceptable.
func (r *RobotsCache) CanFetch(ctx context.Context, rawURL string) bool {
	if !r.respect {
		r.logger.Warn("robots.txt compliance disabled", zap.String("url", rawURL))
		return true
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return true
	}
	origin := parsed.Scheme + "://" + parsed.Host

	r.mu.Lock()
	data, hit := r.cache[origin]
	r.mu.Unlock()

	if !hit {
		data = r.fetch(ctx, origin)
		r.mu.Lock()
		r.cache[origin] = data
		r.mu.Unlock()
	}

	if data == nil {
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	target := parsed.Path
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return group.Test(target)
}

// fetch retrieves and parses an origin's robots.txt. A nil return is cached
// as "absent" and allows everything.
func (r *RobotsCache) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("robots fetch failed; allowing",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		r.logger.Debug("robots parse failed; allowing",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}
	return data
}
