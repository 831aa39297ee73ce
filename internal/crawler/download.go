package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrUnsafePath rejects a destination resolving outside the storage root.
var ErrUnsafePath = errors.New("destination escapes storage root")

// DownloadResult reports the outcome of a successful streaming download.
type DownloadResult struct {
	FileSize int64
	FileHash string
}

// Downloader streams candidate PDFs to disk, hashing while writing and
// enforcing size/time ceilings. A rejected candidate (bad status, wrong
// type, too large, too slow) returns (nil, nil): not an error, just no
// result.
type Downloader struct {
	client   *http.Client
	settings Settings
	clock    Clock
	logger   *zap.Logger
}

// NewDownloader constructs a Downloader sharing the session HTTP client.
func NewDownloader(client *http.Client, settings Settings, clock Clock, logger *zap.Logger) *Downloader {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{client: client, settings: settings, clock: clock, logger: logger}
}

// Download fetches rawURL into destPath. The temp file lives in the
// destination directory so the final rename is atomic on the same
// filesystem.
func (d *Downloader) Download(ctx context.Context, rawURL, destPath string) (*DownloadResult, error) {
	if err := d.verifyPath(destPath); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("download request failed", zap.String("url", rawURL), zap.Error(err))
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		d.logger.Warn("download rejected: bad status",
			zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
		return nil, nil
	}
	if !d.looksLikePDF(rawURL, resp) {
		d.logger.Warn("download rejected: not a PDF",
			zap.String("url", rawURL),
			zap.String("content_type", resp.Header.Get("Content-Type")))
		return nil, nil
	}
	if resp.ContentLength > 0 && resp.ContentLength > d.settings.MaxFileBytes {
		d.logger.Warn("download rejected: declared size over limit",
			zap.String("url", rawURL), zap.Int64("content_length", resp.ContentLength))
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return nil, fmt.Errorf("create destination dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	result, err := d.stream(resp.Body, tmp, rawURL)
	if err != nil || result == nil {
		cleanup()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("publish download: %w", err)
	}

	d.logger.Info("downloaded PDF",
		zap.String("url", rawURL),
		zap.String("path", destPath),
		zap.Int64("bytes", result.FileSize),
		zap.String("hash", result.FileHash[:8]),
	)
	return result, nil
}

// stream copies the body to the temp file in chunks while hashing, aborting
// on the size or download-time ceiling. A nil, nil return means the
// candidate was rejected mid-stream.
func (d *Downloader) stream(body io.Reader, tmp *os.File, rawURL string) (*DownloadResult, error) {
	chunkSize := d.settings.ChunkBytes
	if chunkSize <= 0 {
		chunkSize = 64 << 10
	}
	hasher := sha256.New()
	buf := make([]byte, chunkSize)
	var written int64
	start := d.clock.Now()

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > d.settings.MaxFileBytes {
				d.logger.Warn("download aborted: size ceiling exceeded",
					zap.String("url", rawURL), zap.Int64("bytes", written))
				return nil, nil
			}
			if d.settings.MaxDownloadTime > 0 && d.clock.Now().Sub(start) > d.settings.MaxDownloadTime {
				d.logger.Warn("download aborted: time ceiling exceeded",
					zap.String("url", rawURL))
				return nil, nil
			}
			if _, err := tmp.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("write temp file: %w", err)
			}
			hasher.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			d.logger.Warn("download stream failed", zap.String("url", rawURL), zap.Error(readErr))
			return nil, nil
		}
	}

	return &DownloadResult{
		FileSize: written,
		FileHash: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// looksLikePDF accepts application/pdf, application/octet-stream, a .pdf
// URL, or a PDF content disposition.
func (d *Downloader) looksLikePDF(rawURL string, resp *http.Response) bool {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(ct, "application/pdf") || strings.Contains(ct, "application/octet-stream") {
		return true
	}
	if strings.Contains(strings.ToLower(rawURL), ".pdf") {
		return true
	}
	return strings.Contains(strings.ToLower(resp.Header.Get("Content-Disposition")), ".pdf")
}

// verifyPath ensures destPath resolves inside the storage root. Symlinked
// parents are resolved before comparison.
func (d *Downloader) verifyPath(destPath string) error {
	root, err := filepath.Abs(d.settings.StorageRoot)
	if err != nil {
		return fmt.Errorf("resolve storage root: %w", err)
	}
	if resolved, rerr := filepath.EvalSymlinks(root); rerr == nil {
		root = resolved
	}

	abs, err := filepath.Abs(destPath)
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}
	// The file itself may not exist yet; resolve its parent.
	dir := filepath.Dir(abs)
	if resolved, rerr := filepath.EvalSymlinks(dir); rerr == nil {
		abs = filepath.Join(resolved, filepath.Base(abs))
	}

	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		d.logger.Error("path traversal attempt rejected", zap.String("path", destPath))
		return ErrUnsafePath
	}
	return nil
}
