package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"
)

// HTTPClientConfig tunes the shared crawl HTTP client.
type HTTPClientConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TotalTimeout   time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	UserAgent      string
}

// retryableStatuses are transient HTTP statuses worth another attempt.
var retryableStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// NewHTTPClient builds the shared client used for page fetches, header
// probes, and downloads: connection pooling, per-request timeouts, and
// jittered exponential retry on transient failures.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 20 * time.Second
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 180 * time.Second
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          40,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{
		Timeout: cfg.TotalTimeout,
		Transport: &retryTransport{
			next:       base,
			maxRetries: cfg.MaxRetries,
			baseDelay:  cfg.BackoffInitial,
			maxDelay:   cfg.BackoffMax,
			userAgent:  cfg.UserAgent,
		},
	}
}

// retryTransport retries idempotent requests with jittered exponential
// backoff and stamps the crawler user agent on every request.
type retryTransport struct {
	next       http.RoundTripper
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	userAgent  string
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = t.next.RoundTrip(req)
		if !t.shouldRetry(req, resp, err, attempt) {
			return resp, err
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		if werr := t.wait(req.Context(), t.backoff(attempt)); werr != nil {
			if err != nil {
				return nil, err
			}
			return nil, werr
		}
	}
}

func (t *retryTransport) shouldRetry(req *http.Request, resp *http.Response, err error, attempt int) bool {
	if attempt >= t.maxRetries {
		return false
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return netErr.Timeout()
		}
		return true
	}
	_, transient := retryableStatuses[resp.StatusCode]
	return transient
}

func (t *retryTransport) backoff(attempt int) time.Duration {
	delay := float64(t.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(t.maxDelay) {
		delay = float64(t.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func (t *retryTransport) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
