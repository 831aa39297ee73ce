package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// priorityKeywords bias frontier ordering toward pages likely to link
// documents.
var priorityKeywords = []string{
	"document", "form", "download", "pdf", "policy",
	"wording", "pds", "disclosure", "legal", "terms",
	"resources", "publications", "brochure", "guide",
	"factsheet", "fact-sheet", "claim", "certificate",
	"target-market", "product-guide", "media", "assets",
	"uploads", "files",
}

var onclickPDFPattern = regexp.MustCompile(`(?i)['"]([^'"]*\.pdf[^'"]*)['"]`)

const (
	maxPerPathPrefix   = 20
	diverseThreshold   = 5
	priorityInsertSlot = 10
	maxPageBodyBytes   = 5 << 20
)

// DomainCrawler explores one site from a seed URL under page and time
// budgets, collecting candidate PDF URLs.
type DomainCrawler struct {
	client   *http.Client
	robots   *RobotsCache
	settings Settings
	clock    Clock
	logger   *zap.Logger
}

// NewDomainCrawler constructs a DomainCrawler sharing the session HTTP
// client and robots cache.
func NewDomainCrawler(client *http.Client, robots *RobotsCache, settings Settings, clock Clock, logger *zap.Logger) *DomainCrawler {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DomainCrawler{
		client:   client,
		robots:   robots,
		settings: settings,
		clock:    clock,
		logger:   logger,
	}
}

// Crawl explores from seed until the queue drains, maxPages is spent, or
// deadline passes. visited is shared across seeds so a URL is never crawled
// twice in one session. It returns discovered PDF URLs and pages fetched.
func (c *DomainCrawler) Crawl(
	ctx context.Context,
	seed string,
	maxPages int,
	deadline time.Time,
	keywordFilters, policyTypes []string,
	visited map[string]struct{},
) ([]string, int) {
	if visited == nil {
		visited = make(map[string]struct{})
	}

	// A seed that is itself a PDF short-circuits the whole traversal.
	if IsPDFURL(seed) {
		normalized := NormalizeURL(seed, c.settings.TrackingParams)
		if ok, _ := FilterCandidate(normalized, keywordFilters, policyTypes); ok {
			c.logger.Info("direct PDF seed", zap.String("url", normalized))
			return []string{normalized}, 1
		}
		return nil, 1
	}

	pdfSet := make(map[string]struct{})
	queue := []string{seed}
	prefixCounts := make(map[string]int)
	queueCap := maxPages * 5
	if queueCap < 50000 {
		queueCap = 50000
	}
	visitedCap := maxPages * 5
	if visitedCap < 100000 {
		visitedCap = 100000
	}

	pages := 0
	for len(queue) > 0 && pages < maxPages {
		if !deadline.IsZero() && c.clock.Now().After(deadline) {
			c.logger.Warn("time limit reached",
				zap.Int("pages", pages), zap.Int("pdfs", len(pdfSet)))
			break
		}
		if ctx.Err() != nil {
			break
		}
		if len(visited) > visitedCap {
			c.logger.Warn("visited set too large; stopping crawl",
				zap.Int("visited", len(visited)))
			break
		}

		var current string
		if c.settings.Mode == "depth" {
			current = queue[len(queue)-1]
			queue = queue[:len(queue)-1]
		} else {
			current = queue[0]
			queue = queue[1:]
		}

		if _, seen := visited[current]; seen {
			continue
		}
		if !c.robots.CanFetch(ctx, current) {
			c.logger.Debug("blocked by robots.txt", zap.String("url", current))
			visited[current] = struct{}{}
			continue
		}
		visited[current] = struct{}{}

		if !SameDomain(seed, current) {
			continue
		}

		if pages > 0 {
			c.pause(ctx, c.settings.RequestDelay)
		}
		pages++

		page, ok := c.fetchHTML(ctx, current)
		if !ok {
			continue
		}

		c.extractFromPage(ctx, seed, current, page, keywordFilters, policyTypes, pdfSet, visited,
			func(target string, priority bool) {
				prefix := PathPrefix(target)
				if prefixCounts[prefix] >= maxPerPathPrefix {
					return
				}
				if len(queue) >= queueCap {
					return
				}
				if priority || prefixCounts[prefix] < diverseThreshold {
					slot := priorityInsertSlot
					if slot > len(queue) {
						slot = len(queue)
					}
					queue = append(queue[:slot], append([]string{target}, queue[slot:]...)...)
				} else {
					queue = append(queue, target)
				}
				prefixCounts[prefix]++
			})
	}

	c.logger.Info("crawl complete",
		zap.String("seed", seed),
		zap.Int("pages", pages),
		zap.Int("visited", len(visited)),
		zap.Int("pdfs", len(pdfSet)),
	)

	out := make([]string, 0, len(pdfSet))
	for u := range pdfSet {
		out = append(out, u)
	}
	return out, pages
}

func (c *DomainCrawler) pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// fetchHTML fetches a page and parses it when it is a 200 HTML response.
// Non-200 and non-HTML pages are skipped without counting as errors.
func (c *DomainCrawler) fetchHTML(ctx context.Context, pageURL string) (*goquery.Document, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("page fetch failed", zap.String("url", pageURL), zap.Error(err))
		return nil, false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("non-200 page", zap.String("url", pageURL), zap.Int("status", resp.StatusCode))
		return nil, false
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); !strings.Contains(ct, "text/html") {
		c.logger.Debug("non-HTML page", zap.String("url", pageURL), zap.String("content_type", ct))
		return nil, false
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBodyBytes))
	if err != nil {
		c.logger.Warn("page parse failed", zap.String("url", pageURL), zap.Error(err))
		return nil, false
	}
	return doc, true
}

// extractFromPage pulls candidate targets from anchors, embedded objects,
// data attributes, and inline onclick handlers. PDF-looking targets feed the
// discovered set; potential documents get a bounded HEAD probe; everything
// else same-domain is offered to enqueue.
func (c *DomainCrawler) extractFromPage(
	ctx context.Context,
	seed, pageURL string,
	doc *goquery.Document,
	keywordFilters, policyTypes []string,
	pdfSet map[string]struct{},
	visited map[string]struct{},
	enqueue func(target string, priority bool),
) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return
	}

	addPDF := func(raw string) {
		normalized := NormalizeURL(raw, c.settings.TrackingParams)
		if _, dup := pdfSet[normalized]; dup {
			return
		}
		if ok, _ := FilterCandidate(normalized, keywordFilters, policyTypes); !ok {
			return
		}
		pdfSet[normalized] = struct{}{}
		c.logger.Info("PDF found", zap.String("url", normalized), zap.Int("total", len(pdfSet)))
	}

	probesUsed := 0
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "javascript:") {
			return
		}
		full := resolveRef(base, href)
		if full == "" {
			return
		}
		if IsPDFURL(full) {
			addPDF(full)
			return
		}

		linkText := strings.TrimSpace(sel.Text())
		if probesUsed < c.settings.MaxProbesPerPage &&
			SameDomain(seed, full) &&
			!isVisited(visited, full) &&
			IsPotentialDocumentURL(full, linkText) {
			probesUsed++
			if c.probeIsPDF(ctx, full) {
				normalized := NormalizeURL(full, c.settings.TrackingParams)
				if _, dup := pdfSet[normalized]; !dup {
					pdfSet[normalized] = struct{}{}
					c.logger.Info("PDF confirmed via probe",
						zap.String("url", normalized), zap.String("link_text", truncate(linkText, 60)))
				}
				return
			}
		}

		if SameDomain(seed, full) && !isVisited(visited, full) {
			enqueue(full, hasPriorityKeyword(full))
		}
	})

	for _, probe := range []struct{ selector, attr string }{
		{"iframe[src]", "src"},
		{"embed[src]", "src"},
		{"object[data]", "data"},
	} {
		doc.Find(probe.selector).Each(func(_ int, sel *goquery.Selection) {
			raw, _ := sel.Attr(probe.attr)
			if full := resolveRef(base, strings.TrimSpace(raw)); full != "" && IsPDFURL(full) {
				addPDF(full)
			}
		})
	}

	for _, attr := range []string{"data-href", "data-url", "data-file", "data-src", "data-pdf"} {
		doc.Find("[" + attr + "]").Each(func(_ int, sel *goquery.Selection) {
			raw, _ := sel.Attr(attr)
			if full := resolveRef(base, strings.TrimSpace(raw)); full != "" && IsPDFURL(full) {
				addPDF(full)
			}
		})
	}

	doc.Find("[onclick]").Each(func(_ int, sel *goquery.Selection) {
		onclick, _ := sel.Attr("onclick")
		for _, match := range onclickPDFPattern.FindAllStringSubmatch(onclick, -1) {
			full := resolveRef(base, match[1])
			if full != "" && SameDomain(seed, full) {
				addPDF(full)
			}
		}
	})
}

// probeIsPDF issues a header-only request and checks the declared content
// type and disposition.
func (c *DomainCrawler) probeIsPDF(ctx context.Context, target string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/pdf") {
		return true
	}
	return strings.Contains(strings.ToLower(resp.Header.Get("Content-Disposition")), ".pdf")
}

func resolveRef(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func isVisited(visited map[string]struct{}, u string) bool {
	_, ok := visited[u]
	return ok
}

func hasPriorityKeyword(raw string) bool {
	lower := strings.ToLower(raw)
	for _, kw := range priorityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
