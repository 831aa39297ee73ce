package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insurdocs/policy-crawler/internal/metrics"
)

// Orchestrator runs crawl sessions end to end: seed traversal, candidate
// download, dedup, classification, and persistence. One Orchestrator serves
// all sessions; per-session state lives on the stack of Execute.
type Orchestrator struct {
	sessions SessionStore
	docs     DocumentStore
	registry *Registry
	logs     *LogBuffer
	cache    Invalidator
	settings Settings
	clock    Clock
	logger   *zap.Logger
}

// NewOrchestrator wires the orchestrator dependencies. cache may be nil when
// no view cache is configured.
func NewOrchestrator(
	sessions SessionStore,
	docs DocumentStore,
	registry *Registry,
	logs *LogBuffer,
	cache Invalidator,
	settings Settings,
	clock Clock,
	logger *zap.Logger,
) *Orchestrator {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions: sessions,
		docs:     docs,
		registry: registry,
		logs:     logs,
		cache:    cache,
		settings: settings,
		clock:    clock,
		logger:   logger,
	}
}

// Execute runs one session to a terminal state. The caller must already have
// registered the session in the concurrency registry; Execute owns
// unregistering it. Execute never returns a non-nil error for crawl-level
// problems (those mark the session failed); it only errors when the session
// itself cannot be loaded or persisted at all.
func (o *Orchestrator) Execute(ctx context.Context, sess *CrawlSession) (err error) {
	logger := o.logger.With(zap.String("session_id", sess.ID.String()))
	httpCfg := o.settings.HTTP
	if httpCfg.UserAgent == "" {
		httpCfg.UserAgent = o.settings.UserAgent
	}
	client := NewHTTPClient(httpCfg)

	metrics.IncActiveSessions()

	// Cleanup must run exactly once on every exit path, including panics.
	var cleanup sync.Once
	defer cleanup.Do(func() {
		metrics.DecActiveSessions()
		client.CloseIdleConnections()
		if o.cache != nil {
			o.cache.InvalidatePrefix("sessions:")
			o.cache.InvalidatePrefix("documents:")
		}
		o.registry.Unregister(sess.ID)
	})
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session panicked", zap.Any("panic", r))
			o.fail(sess.ID, fmt.Sprintf("internal error: %v", r))
			err = fmt.Errorf("session %s panicked: %v", sess.ID, r)
		}
	}()

	if len(sess.SeedURLs) == 0 {
		o.fail(sess.ID, ErrNoSeeds.Error())
		return ErrNoSeeds
	}

	started := o.clock.Now()
	sess.Status = SessionRunning
	sess.StartedAt = &started
	if uerr := o.sessions.UpdateProgress(ctx, sess); uerr != nil {
		o.fail(sess.ID, "could not mark session running")
		return fmt.Errorf("mark running: %w", uerr)
	}
	o.event(sess.ID, "info", fmt.Sprintf("Crawl started with %d seed URL(s)", len(sess.SeedURLs)))

	deadline := started.Add(time.Duration(sess.MaxMinutes) * time.Minute)
	robots := NewRobotsCache(client, o.settings.UserAgent, o.settings.RespectRobots, logger)
	prober := NewSitemapProber(client, o.settings.TrackingParams, logger)
	frontier := NewDomainCrawler(client, robots, o.settings, o.clock, logger)
	downloader := NewDownloader(client, o.settings, o.clock, logger)

	// Each seed gets an equal share of the page budget, never fewer than a
	// handful of pages. The remaining counter is the hard session ceiling:
	// a seed may not spend pages another seed already consumed.
	perSeed := sess.MaxPages / len(sess.SeedURLs)
	if perSeed < 3 {
		perSeed = 3
	}
	remaining := sess.MaxPages

	visited := make(map[string]struct{})
	candidateSet := make(map[string]struct{})
	var candidates []string
	addCandidate := func(u string) {
		if _, dup := candidateSet[u]; dup {
			return
		}
		candidateSet[u] = struct{}{}
		candidates = append(candidates, u)
	}

	for i, seed := range sess.SeedURLs {
		if ctx.Err() != nil || o.clock.Now().After(deadline) {
			o.event(sess.ID, "warning", "Time limit reached during crawl phase")
			break
		}
		if remaining <= 0 {
			o.event(sess.ID, "warning", "Page budget exhausted before all seeds were crawled")
			break
		}
		o.event(sess.ID, "info", fmt.Sprintf("Crawling %s", seed))

		// A productive sitemap replaces the link crawl for this seed and
		// costs a single page.
		sitemapHit := false
		if origin := originOf(seed); origin != "" {
			fromSitemap := prober.Probe(ctx, origin)
			accepted := 0
			for _, u := range sortedKeys(fromSitemap) {
				if ok, _ := FilterCandidate(u, sess.KeywordFilters, sess.PolicyTypes); ok {
					addCandidate(u)
					accepted++
				}
			}
			if accepted > 0 {
				sitemapHit = true
				sess.PagesScanned++
				remaining--
				metrics.AddPages(1)
				o.event(sess.ID, "info",
					fmt.Sprintf("Sitemap yielded %d PDF URL(s) for %s; skipping link crawl", accepted, origin))
			}
		}

		if !sitemapHit {
			allowance := perSeed
			if allowance > remaining {
				allowance = remaining
			}
			found, pages := frontier.Crawl(ctx, seed, allowance, deadline,
				sess.KeywordFilters, sess.PolicyTypes, visited)
			for _, u := range found {
				addCandidate(u)
			}
			sess.PagesScanned += pages
			remaining -= pages
			metrics.AddPages(pages)
		}
		sess.PDFsFound = len(candidates)
		sess.ProgressPct = (i + 1) * 50 / len(sess.SeedURLs)
		o.persistProgress(ctx, sess, logger)
	}

	sess.PDFsFound = len(candidates)
	o.event(sess.ID, "info",
		fmt.Sprintf("Crawl phase done: %d pages scanned, %d candidate PDF(s)", sess.PagesScanned, len(candidates)))

	usedNames := make(map[string]struct{})
	for i, candidate := range candidates {
		if ctx.Err() != nil || o.clock.Now().After(deadline) {
			o.event(sess.ID, "warning", "Time limit reached during download phase")
			break
		}
		o.processCandidate(ctx, sess, downloader, candidate, usedNames, logger)
		sess.ProgressPct = 50 + (i+1)*50/len(candidates)
		o.persistProgress(ctx, sess, logger)
	}

	completed := o.clock.Now()
	sess.Status = SessionCompleted
	sess.ProgressPct = 100
	sess.CompletedAt = &completed
	if uerr := o.sessions.UpdateProgress(ctx, sess); uerr != nil {
		o.fail(sess.ID, "could not mark session completed")
		return fmt.Errorf("mark completed: %w", uerr)
	}
	metrics.ObserveSession(string(SessionCompleted), completed.Sub(started))
	o.event(sess.ID, "info",
		fmt.Sprintf("Crawl completed: %d downloaded, %d filtered, %d error(s)",
			sess.PDFsDownloaded, sess.PDFsFiltered, sess.ErrorsCount))
	logger.Info("session completed",
		zap.Int("pages_scanned", sess.PagesScanned),
		zap.Int("pdfs_found", sess.PDFsFound),
		zap.Int("pdfs_downloaded", sess.PDFsDownloaded),
		zap.Int("pdfs_filtered", sess.PDFsFiltered),
		zap.Int("errors", sess.ErrorsCount))
	return nil
}

// processCandidate downloads, dedups, classifies, and persists one candidate
// URL. All failures are absorbed into session counters.
func (o *Orchestrator) processCandidate(
	ctx context.Context,
	sess *CrawlSession,
	downloader *Downloader,
	candidate string,
	usedNames map[string]struct{},
	logger *zap.Logger,
) {
	ok, policyType := FilterCandidate(candidate, sess.KeywordFilters, sess.PolicyTypes)
	if !ok {
		sess.PDFsFiltered++
		metrics.ObserveDocument("filtered")
		o.event(sess.ID, "info", fmt.Sprintf("Filtered out %s", candidate))
		return
	}

	filename := uniqueFilename(FilenameFromURL(candidate), usedNames)
	stagingDir := filepath.Join(o.settings.StorageRoot, "incoming", sess.ID.String())
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		sess.ErrorsCount++
		logger.Error("staging dir", zap.Error(err))
		return
	}
	destPath := filepath.Join(stagingDir, filename)

	result, err := downloader.Download(ctx, candidate, destPath)
	if err != nil {
		sess.ErrorsCount++
		metrics.ObserveDocument("error")
		o.event(sess.ID, "error", fmt.Sprintf("Download failed for %s: %v", candidate, err))
		return
	}
	if result == nil {
		// Rejected by content checks; not a PDF after all.
		sess.PDFsFiltered++
		metrics.ObserveDocument("filtered")
		o.event(sess.ID, "info", fmt.Sprintf("Rejected non-PDF response from %s", candidate))
		return
	}

	existing, err := o.docs.FindByHash(ctx, result.FileHash)
	switch {
	case err == nil && fileExists(existing.LocalFilePath):
		// Exact duplicate already on disk. Drop the fresh copy.
		_ = os.Remove(destPath)
		sess.PDFsFiltered++
		metrics.ObserveDocument("duplicate")
		o.event(sess.ID, "info",
			fmt.Sprintf("Duplicate of existing document %s", existing.ID))
		return
	case err == nil:
		// Known hash but the file went missing. Adopt the fresh copy.
		finalPath, merr := o.relocate(destPath, existing.Country, existing.PolicyType, filename)
		if merr != nil {
			sess.ErrorsCount++
			logger.Error("relocate refreshed file", zap.Error(merr))
			return
		}
		refreshedBy := sess.ID
		existing.CrawlSessionID = &refreshedBy
		existing.LocalFilePath = finalPath
		existing.FileSize = result.FileSize
		existing.SourceURL = candidate
		if rerr := o.docs.RefreshDocument(ctx, existing); rerr != nil {
			sess.ErrorsCount++
			logger.Error("refresh document", zap.Error(rerr))
			return
		}
		sess.PDFsDownloaded++
		metrics.ObserveDocument("refreshed")
		metrics.AddDownloadBytes(result.FileSize)
		o.event(sess.ID, "info",
			fmt.Sprintf("Refreshed missing file for document %s", existing.ID))
		return
	case !errors.Is(err, ErrNotFound):
		sess.ErrorsCount++
		logger.Error("hash lookup", zap.Error(err))
		return
	}

	verdict := ClassifyDocument(ClassifyInput{
		URL:        candidate,
		Filename:   filename,
		PolicyType: policyType,
		FileSize:   result.FileSize,
	}, o.clock.Now())

	finalPath, merr := o.relocate(destPath, sess.Country, verdict.PolicyType, filename)
	if merr != nil {
		sess.ErrorsCount++
		logger.Error("relocate downloaded file", zap.Error(merr))
		return
	}

	insurer := verdict.InsurerName
	if insurer == "" {
		insurer = ExtractInsurerName(candidate)
	}
	sessID := sess.ID
	doc := &Document{
		ID:             uuid.New(),
		CrawlSessionID: &sessID,
		SourceURL:      candidate,
		Insurer:        insurer,
		LocalFilePath:  finalPath,
		FileSize:       result.FileSize,
		FileHash:       result.FileHash,
		Country:        sess.Country,
		PolicyType:     verdict.PolicyType,
		Classification: verdict.Classification,
		Confidence:     verdict.Confidence,
		Status:         verdict.Status,
		Warnings:       verdict.Warnings,
		Metadata:       verdict.Metadata,
		CreatedAt:      o.clock.Now(),
	}
	if ierr := o.docs.InsertDocument(ctx, doc); ierr != nil {
		sess.ErrorsCount++
		logger.Error("insert document", zap.Error(ierr))
		return
	}
	sess.PDFsDownloaded++
	metrics.ObserveDocument("downloaded")
	metrics.AddDownloadBytes(result.FileSize)
	o.event(sess.ID, "info",
		fmt.Sprintf("Downloaded %s (%s, %.2f)", filename, verdict.Classification, verdict.Confidence))
}

// relocate moves a staged download into its permanent country/policy-type
// directory under the storage root.
func (o *Orchestrator) relocate(stagedPath, country, policyType, filename string) (string, error) {
	dir := filepath.Join(o.settings.StorageRoot,
		SanitizeFilename(strings.ToLower(country)),
		SanitizeFilename(strings.ToLower(policyType)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	finalPath := filepath.Join(dir, filename)
	if err := os.Rename(stagedPath, finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

// persistProgress writes counters best-effort; a failed write is logged but
// does not stop the crawl.
func (o *Orchestrator) persistProgress(ctx context.Context, sess *CrawlSession, logger *zap.Logger) {
	if err := o.sessions.UpdateProgress(ctx, sess); err != nil {
		logger.Warn("progress update failed", zap.Error(err))
	}
}

// fail marks a session failed on a background context so the terminal write
// survives cancellation of the crawl context.
func (o *Orchestrator) fail(id uuid.UUID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.sessions.MarkFailed(ctx, id, reason); err != nil {
		o.logger.Error("could not mark session failed",
			zap.String("session_id", id.String()), zap.Error(err))
	}
	o.event(id, "error", reason)
}

func (o *Orchestrator) event(id uuid.UUID, level, message string) {
	if o.logs != nil {
		o.logs.Append(id, level, message)
	}
}

func uniqueFilename(name string, used map[string]struct{}) string {
	candidate := name
	for n := 1; ; n++ {
		if _, taken := used[candidate]; !taken {
			used[candidate] = struct{}{}
			return candidate
		}
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		candidate = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
}

func originOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
