package crawler

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// sitemapPaths are the conventional locations probed before falling back to
// link crawling. Order matters; the first hit with PDF entries wins.
var sitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemaps/sitemap.xml",
	"/sitemap/sitemap.xml",
}

const maxSitemapBytes = 10 << 20

// SitemapProber extracts PDF URLs from conventional sitemap locations.
// It is a latency optimization only: an empty result means the caller must
// fall back to link crawling.
type SitemapProber struct {
	client *http.Client
	extra  []string // extra tracking params for normalization
	logger *zap.Logger
}

// NewSitemapProber constructs a SitemapProber using the shared crawl client.
func NewSitemapProber(client *http.Client, extraTracking []string, logger *zap.Logger) *SitemapProber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SitemapProber{client: client, extra: extraTracking, logger: logger}
}

// Probe tries each conventional sitemap path against the origin and returns
// the normalized PDF URLs found in the first parseable sitemap that has any.
func (p *SitemapProber) Probe(ctx context.Context, origin string) map[string]struct{} {
	origin = strings.TrimRight(origin, "/")
	for _, sp := range sitemapPaths {
		urls := p.probeOne(ctx, origin+sp)
		if len(urls) > 0 {
			p.logger.Info("sitemap yielded PDF URLs",
				zap.String("sitemap", origin+sp), zap.Int("count", len(urls)))
			return urls
		}
	}
	return nil
}

func (p *SitemapProber) probeOne(ctx context.Context, sitemapURL string) map[string]struct{} {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); !strings.Contains(ct, "xml") {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil
	}
	return p.extractPDFLocs(body)
}

// extractPDFLocs walks every <loc> element regardless of namespace and
// collects entries whose text mentions .pdf.
func (p *SitemapProber) extractPDFLocs(body []byte) map[string]struct{} {
	found := make(map[string]struct{})
	decoder := xml.NewDecoder(strings.NewReader(string(body)))
	inLoc := false
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inLoc = t.Name.Local == "loc"
		case xml.EndElement:
			inLoc = false
		case xml.CharData:
			if !inLoc {
				continue
			}
			loc := strings.TrimSpace(string(t))
			if loc != "" && strings.Contains(strings.ToLower(loc), ".pdf") {
				found[NormalizeURL(loc, p.extra)] = struct{}{}
			}
		}
	}
	if len(found) == 0 {
		return nil
	}
	return found
}
