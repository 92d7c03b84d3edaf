// Package assets downloads remote files into a content-addressed local
// cache. Blobs are stored by SHA-256 hash with a sqlite index, concurrent
// fetches of one URL are coalesced, and the store is bounded by an LRU
// byte cap.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rajarshidattapy/BlendAI/internal/metrics"
	"github.com/rajarshidattapy/BlendAI/scene"
	"github.com/rajarshidattapy/BlendAI/types"
)

// sniffLen is how many leading bytes http.DetectContentType inspects.
const sniffLen = 512

// Config controls the fetcher.
type Config struct {
	// BlobDir is where blobs live, one file per content hash.
	BlobDir string `yaml:"blob_dir"`

	// MaxAssetSize bounds one download. Requests may lower it per call,
	// never raise it.
	MaxAssetSize int64 `yaml:"max_asset_size"`

	// CacheBytes caps the blob store; least-recently-used entries are
	// evicted past it. Zero disables eviction.
	CacheBytes int64 `yaml:"cache_bytes"`

	// AllowHTTP opts plain http URLs in. Only https is accepted otherwise.
	AllowHTTP bool `yaml:"allow_http"`

	// Timeout bounds one transfer when the request context carries no
	// earlier deadline.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the stock bounds: 100 MB per asset, 1 GB cache.
func DefaultConfig() Config {
	return Config{
		BlobDir:      "blobs",
		MaxAssetSize: 100 << 20,
		CacheBytes:   1 << 30,
		Timeout:      5 * time.Minute,
	}
}

// Fetcher downloads and caches assets.
type Fetcher struct {
	cfg      Config
	client   *http.Client
	index    *Index
	group    singleflight.Group
	importer scene.Importer
	metrics  *metrics.Collector
	logger   *zap.Logger

	// Delivered hashes. One blob reaches the host importer exactly once,
	// no matter how many URLs or callers resolve to it.
	importGroup singleflight.Group
	importMu    sync.Mutex
	imported    map[string]*types.ObjectHandle
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient swaps the transport, used by tests.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithImporter attaches the host importer ImportURL hands blobs to.
func WithImporter(imp scene.Importer) Option {
	return func(f *Fetcher) { f.importer = imp }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher over the given index.
func NewFetcher(cfg Config, index *Index, opts ...Option) (*Fetcher, error) {
	def := DefaultConfig()
	if cfg.BlobDir == "" {
		cfg.BlobDir = def.BlobDir
	}
	if cfg.MaxAssetSize == 0 {
		cfg.MaxAssetSize = def.MaxAssetSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if err := os.MkdirAll(cfg.BlobDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	f := &Fetcher{
		cfg:      cfg,
		client:   &http.Client{},
		index:    index,
		logger:   zap.NewNop(),
		imported: make(map[string]*types.ObjectHandle),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(zap.String("component", "assets"))
	return f, nil
}

// Fetch downloads the URL into the cache, or returns the existing entry
// when byte-identical content is already stored. Concurrent calls for the
// same URL share one transfer.
func (f *Fetcher) Fetch(ctx context.Context, req types.AssetRequest) (*types.CachedAsset, error) {
	ctx, span := otel.Tracer("blendai/assets").Start(ctx, "fetcher.fetch")
	defer span.End()

	if err := f.checkScheme(req.URL); err != nil {
		return nil, err
	}

	start := time.Now()
	v, err, shared := f.group.Do(req.URL, func() (any, error) {
		return f.fetchOne(ctx, req)
	})
	if err != nil {
		if f.metrics != nil {
			f.metrics.RecordFetch("error", 0, time.Since(start))
		}
		return nil, err
	}

	asset := v.(*types.CachedAsset)

	// The winning transfer enforced its own request; a coalesced waiter
	// still gets the shared result checked against its own bounds.
	if asset.Size > f.maxSize(req) {
		if f.metrics != nil {
			f.metrics.RecordFetch("error", 0, time.Since(start))
		}
		return nil, tooLarge(asset.Size, f.maxSize(req))
	}
	if req.ContentType != "" && !typesMatch(req.ContentType, asset.ContentType) {
		if f.metrics != nil {
			f.metrics.RecordFetch("error", 0, time.Since(start))
		}
		return nil, types.NewError(types.ErrContentTypeMismatch,
			fmt.Sprintf("declared %q, cached asset is %q", req.ContentType, asset.ContentType)).
			WithRule("content_type")
	}

	span.SetAttributes(
		attribute.String("asset.hash", asset.Hash),
		attribute.Int64("asset.size", asset.Size),
	)
	if f.metrics != nil {
		outcome := "success"
		if shared {
			outcome = "coalesced"
		}
		f.metrics.RecordFetch(outcome, asset.Size, time.Since(start))
	}
	return asset, nil
}

// ImportURL fetches the URL and hands the cached blob to the host
// importer. Delivery is exactly-once per content hash: repeat and
// concurrent calls resolving to the same bytes get the handle of the
// first import. A failed import is not recorded, so it may be retried.
func (f *Fetcher) ImportURL(ctx context.Context, req types.AssetRequest) (*types.ObjectHandle, error) {
	if f.importer == nil {
		return nil, types.NewError(types.ErrTransferFailed, "no importer configured")
	}
	asset, err := f.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	v, err, _ := f.importGroup.Do(asset.Hash, func() (any, error) {
		f.importMu.Lock()
		handle, ok := f.imported[asset.Hash]
		f.importMu.Unlock()
		if ok {
			return handle, nil
		}
		handle, err := f.importer.ImportFile(ctx, asset.Path, asset.ContentType)
		if err != nil {
			return nil, types.NewError(types.ErrTransferFailed, "host import failed").WithCause(err)
		}
		f.importMu.Lock()
		f.imported[asset.Hash] = handle
		f.importMu.Unlock()
		return handle, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.ObjectHandle), nil
}

func (f *Fetcher) checkScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return types.NewError(types.ErrUnsupportedScheme, "unparseable URL").
			WithRule("scheme_allowlist").WithCause(err)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if f.cfg.AllowHTTP {
			return nil
		}
	}
	return types.NewError(types.ErrUnsupportedScheme,
		fmt.Sprintf("scheme %q is not allowed", u.Scheme)).WithRule("scheme_allowlist")
}

func (f *Fetcher) maxSize(req types.AssetRequest) int64 {
	if req.MaxSize > 0 && req.MaxSize < f.cfg.MaxAssetSize {
		return req.MaxSize
	}
	return f.cfg.MaxAssetSize
}

func (f *Fetcher) fetchOne(ctx context.Context, req types.AssetRequest) (*types.CachedAsset, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	tmpPath, hash, size, sniffed, err := f.download(ctx, req)
	if err != nil {
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = sniffed
	}

	// Content-addressed dedup: identical bytes under a different URL
	// reuse the stored blob.
	now := time.Now()
	if existing, err := f.index.Get(ctx, hash); err != nil {
		os.Remove(tmpPath)
		return nil, types.NewError(types.ErrTransferFailed, "index lookup failed").WithCause(err)
	} else if existing != nil {
		os.Remove(tmpPath)
		if err := f.index.Touch(ctx, hash, now); err != nil {
			f.logger.Warn("index touch failed", zap.String("hash", hash), zap.Error(err))
		}
		if f.metrics != nil {
			f.metrics.RecordCacheHit()
		}
		return recordToAsset(existing), nil
	}
	if f.metrics != nil {
		f.metrics.RecordCacheMiss()
	}

	blobPath := filepath.Join(f.cfg.BlobDir, hash)
	if err := os.Rename(tmpPath, blobPath); err != nil {
		os.Remove(tmpPath)
		return nil, types.NewError(types.ErrTransferFailed, "promote blob").WithCause(err)
	}

	rec := &Record{
		Hash:        hash,
		Path:        blobPath,
		Size:        size,
		ContentType: contentType,
		SourceURL:   req.URL,
		CreatedAt:   now,
		LastAccess:  now,
	}
	if err := f.index.Put(ctx, rec); err != nil {
		os.Remove(blobPath)
		return nil, types.NewError(types.ErrTransferFailed, "index insert failed").WithCause(err)
	}

	f.logger.Info("asset cached",
		zap.String("hash", hash),
		zap.Int64("size", size),
		zap.String("content_type", contentType))

	f.evict(ctx, hash)
	return recordToAsset(rec), nil
}

// download streams the response into a temp file inside the blob dir,
// hashing as it goes. On any failure the temp file is removed; partial
// bytes are never promoted.
func (f *Fetcher) download(ctx context.Context, req types.AssetRequest) (tmpPath, hash string, size int64, sniffed string, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", "", 0, "", types.NewError(types.ErrTransferFailed, "build request").WithCause(err)
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", "", 0, "", types.NewError(types.ErrTransferFailed, "transfer failed").
			WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", 0, "", types.NewError(types.ErrTransferFailed,
			fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithHTTPStatus(resp.StatusCode).WithRetryable(resp.StatusCode >= 500)
	}

	maxSize := f.maxSize(req)
	// A Content-Length over the bound fails before a single byte is read;
	// servers may omit or understate it, so the streamed count still rules.
	if resp.ContentLength > maxSize {
		return "", "", 0, "", tooLarge(resp.ContentLength, maxSize)
	}

	tmp, err := os.CreateTemp(f.cfg.BlobDir, "download-*")
	if err != nil {
		return "", "", 0, "", types.NewError(types.ErrTransferFailed, "create temp file").WithCause(err)
	}
	tmpPath = tmp.Name()
	discard := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	hasher := sha256.New()
	head := make([]byte, 0, sniffLen)
	limited := io.LimitReader(resp.Body, maxSize+1)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := limited.Read(buf)
		if n > 0 {
			size += int64(n)
			if size > maxSize {
				discard()
				return "", "", 0, "", tooLarge(size, maxSize)
			}
			if len(head) < sniffLen {
				take := sniffLen - len(head)
				if take > n {
					take = n
				}
				head = append(head, buf[:take]...)
			}
			hasher.Write(buf[:n])
			if _, err := tmp.Write(buf[:n]); err != nil {
				discard()
				return "", "", 0, "", types.NewError(types.ErrTransferFailed, "write blob").WithCause(err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			discard()
			return "", "", 0, "", types.NewError(types.ErrTransferFailed, "read body").
				WithRetryable(true).WithCause(readErr)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", "", 0, "", types.NewError(types.ErrTransferFailed, "close blob").WithCause(err)
	}

	sniffed = http.DetectContentType(head)
	if req.ContentType != "" && !typesMatch(req.ContentType, sniffed) {
		os.Remove(tmpPath)
		return "", "", 0, "", types.NewError(types.ErrContentTypeMismatch,
			fmt.Sprintf("declared %q, sniffed %q", req.ContentType, sniffed)).
			WithRule("content_type")
	}

	return tmpPath, hex.EncodeToString(hasher.Sum(nil)), size, sniffed, nil
}

// typesMatch compares MIME types ignoring parameters. Sniffing only knows
// a coarse set, so an application/octet-stream sniff matches any declared
// binary type.
func typesMatch(declared, sniffed string) bool {
	base := func(s string) string {
		if i := strings.IndexByte(s, ';'); i >= 0 {
			s = s[:i]
		}
		return strings.ToLower(strings.TrimSpace(s))
	}
	d, s := base(declared), base(sniffed)
	if d == s {
		return true
	}
	if s == "application/octet-stream" && !strings.HasPrefix(d, "text/") {
		return true
	}
	return false
}

// evict walks least-recently-used entries out of the store until it fits
// under the byte cap. The entry named by keep is never a victim: its
// caller still holds the returned path. Best-effort: an eviction error
// is logged, never surfaced to the fetch that triggered it.
func (f *Fetcher) evict(ctx context.Context, keep string) {
	if f.cfg.CacheBytes <= 0 {
		return
	}
	total, err := f.index.TotalBytes(ctx)
	if err != nil {
		f.logger.Warn("eviction size query failed", zap.Error(err))
		return
	}
	for total > f.cfg.CacheBytes {
		victims, err := f.index.LeastRecent(ctx, 2)
		if err != nil || len(victims) == 0 {
			return
		}
		victim := victims[0]
		if victim.Hash == keep {
			if len(victims) < 2 {
				return
			}
			victim = victims[1]
		}
		if err := f.index.Delete(ctx, victim.Hash); err != nil {
			f.logger.Warn("eviction delete failed", zap.String("hash", victim.Hash), zap.Error(err))
			return
		}
		if err := os.Remove(victim.Path); err != nil && !os.IsNotExist(err) {
			f.logger.Warn("eviction blob removal failed", zap.String("path", victim.Path), zap.Error(err))
		}
		if f.metrics != nil {
			f.metrics.RecordCacheEviction(1)
		}
		f.logger.Info("evicted asset", zap.String("hash", victim.Hash), zap.Int64("size", victim.Size))
		total -= victim.Size
	}
}

func tooLarge(size, bound int64) *types.Error {
	return types.NewError(types.ErrAssetTooLarge,
		fmt.Sprintf("asset of %d bytes exceeds the %d byte bound", size, bound)).
		WithRule("size_bound")
}

func recordToAsset(rec *Record) *types.CachedAsset {
	return &types.CachedAsset{
		Hash:        rec.Hash,
		Path:        rec.Path,
		Size:        rec.Size,
		ContentType: rec.ContentType,
		SourceURL:   rec.SourceURL,
		CreatedAt:   rec.CreatedAt,
	}
}
