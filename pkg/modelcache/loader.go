// Package modelcache loads pretrained causal language models and their
// tokenizers, caching the artifacts under a deterministic directory and
// placing the weights on the best available device.
//
// The cache layout is cache_root/<model id with '/' replaced by '_'>/<revision>/.
// A directory holding any recognised checkpoint marker is a cache hit and is
// loaded without network access. A hit that lacks the requested variant gets
// that variant added in place. Anything else is fetched from the remote source
// with retries and an explicit per-attempt timeout.
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chriscow/scenecap-go/pkg/modelcache/internal"
)

// DefaultCacheRoot is used when Config.CacheRoot is empty.
const DefaultCacheRoot = "./model_cache"

// Config holds loader configuration. The token is resolved once by the caller
// and passed in explicitly.
type Config struct {
	CacheRoot      string        // Root of the on-disk cache (default ./model_cache)
	Token          string        // Hub authentication token (optional)
	FetchTimeout   time.Duration // Timeout per remote fetch attempt (0 disables)
	Retry          RetryConfig   // Retry policy for remote fetches
	RecoverCorrupt bool          // Delete and refetch once on a corrupt cache
	HubEndpoint    string        // Hub base URL for hub-backed backends (optional)
}

// DefaultConfig returns the loader defaults.
func DefaultConfig() Config {
	return Config{
		CacheRoot:      DefaultCacheRoot,
		FetchTimeout:   30 * time.Minute,
		Retry:          DefaultRetryConfig,
		RecoverCorrupt: true,
	}
}

// Handle is a ready-to-use model and tokenizer pair.
type Handle struct {
	ModelID   string
	Revision  string
	CacheRoot string
	Dir       string
	Placement Placement
	CacheHit  bool
	Marker    string // checkpoint marker found on a cache hit

	// Prompt is the caption prompt used with this model. It starts as
	// Options.Prompt and belongs to the caller afterwards.
	Prompt string

	Model     Model
	Tokenizer Tokenizer
}

// Device returns the device the model was placed on.
func (h *Handle) Device() Device { return h.Placement.Device }

// Precision returns the precision the model was placed with.
func (h *Handle) Precision() Precision { return h.Placement.Precision }

// Close releases the model.
func (h *Handle) Close() error {
	if h.Model == nil {
		return nil
	}
	return h.Model.Close()
}

// CacheStatus describes the on-disk state for a model revision.
type CacheStatus struct {
	Dir    string
	Cached bool
	Marker string
}

// Loader acquires models through a Backend, caching them on disk.
type Loader struct {
	cfg     Config
	backend Backend
	probe   Probe
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a loader. A nil probe reports no accelerator; a nil logger uses slog.Default().
func New(cfg Config, backend Backend, probe Probe, logger *slog.Logger) *Loader {
	if cfg.CacheRoot == "" {
		cfg.CacheRoot = DefaultCacheRoot
	}
	if probe == nil {
		probe = StaticProbe(false)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Loader{
		cfg:     cfg,
		backend: backend,
		probe:   probe,
		logger:  logger,
		locks:   make(map[string]*keyLock),
	}
}

// Path returns the cache directory for a model revision.
func (l *Loader) Path(modelID, revision string) string {
	return internal.GetModelPath(l.cfg.CacheRoot, modelID, revision)
}

// Status reports whether Acquire would take the cache-hit path.
func (l *Loader) Status(modelID, revision string) CacheStatus {
	dir := l.Path(modelID, revision)
	marker, ok := internal.FindMarker(dir)
	return CacheStatus{Dir: dir, Cached: ok, Marker: marker}
}

// Acquire returns the model and tokenizer for modelID, loading them from the
// cache when a checkpoint is present and fetching them otherwise. The model
// is placed on the selected device before Acquire returns.
func (l *Loader) Acquire(ctx context.Context, modelID string, opts Options) (*Handle, error) {
	if strings.TrimSpace(modelID) == "" {
		return nil, &LoadError{Revision: opts.Revision, Err: errors.New("model id is empty")}
	}
	if !internal.ValidModelID(modelID) {
		return nil, &LoadError{ModelID: modelID, Revision: opts.Revision, Err: fmt.Errorf("invalid model id %q", modelID)}
	}
	if err := opts.Validate(); err != nil {
		return nil, &LoadError{ModelID: modelID, Revision: opts.Revision, Err: err}
	}

	placement := SelectPlacement(l.probe.AcceleratorAvailable())
	dir := l.Path(modelID, opts.Revision)

	logger := l.logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("model_id", modelID),
		slog.String("revision", opts.Revision),
		slog.String("dir", dir))

	unlock := l.lock(dir)
	defer unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &FilesystemError{Op: "create cache directory", Path: dir, Err: err}
	}

	start := time.Now()
	h, err := l.acquireLocked(ctx, logger, modelID, opts, dir, placement)
	if err != nil && errors.Is(err, ErrCorruptCache) && l.cfg.RecoverCorrupt {
		logger.Warn("Corrupt model cache, deleting and refetching",
			slog.String("error", err.Error()))

		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return nil, &FilesystemError{Op: "remove corrupt cache", Path: dir, Err: rmErr}
		}
		if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
			return nil, &FilesystemError{Op: "create cache directory", Path: dir, Err: mkErr}
		}
		h, err = l.fetch(ctx, logger, modelID, opts, dir, placement)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Model acquired",
		slog.Bool("cache_hit", h.CacheHit),
		slog.String("placement", h.Placement.String()),
		slog.Duration("elapsed", time.Since(start)))
	return h, nil
}

func (l *Loader) acquireLocked(ctx context.Context, logger *slog.Logger, modelID string, opts Options, dir string, placement Placement) (*Handle, error) {
	marker, hit := internal.FindMarker(dir)
	if !hit {
		return l.fetch(ctx, logger, modelID, opts, dir, placement)
	}
	return l.load(ctx, logger, modelID, opts, dir, marker, placement)
}

// fetch is the cache-miss path: everything comes from the remote source by identifier.
func (l *Loader) fetch(ctx context.Context, logger *slog.Logger, modelID string, opts Options, dir string, placement Placement) (*Handle, error) {
	logger.Info("Model not cached, fetching from remote")

	req := FetchRequest{
		ModelID:   modelID,
		Revision:  opts.Revision,
		Options:   opts,
		Token:     l.cfg.Token,
		Precision: placement.Precision,
		Dir:       dir,
	}

	var model Model
	err := retry(ctx, l.cfg.Retry, l.cfg.FetchTimeout, logger, "fetch_model", func(ctx context.Context) error {
		m, err := l.backend.FetchModel(ctx, req)
		if err != nil {
			return err
		}
		model = m
		return nil
	})
	if err != nil {
		return nil, &LoadError{ModelID: modelID, Revision: opts.Revision, Err: err}
	}

	var tok Tokenizer
	err = retry(ctx, l.cfg.Retry, l.cfg.FetchTimeout, logger, "fetch_tokenizer", func(ctx context.Context) error {
		t, err := l.backend.FetchTokenizer(ctx, TokenizerRequest{
			Ref:      modelID,
			Revision: opts.Revision,
			Token:    l.cfg.Token,
			Dir:      dir,
		})
		if err != nil {
			return err
		}
		tok = t
		return nil
	})
	if err != nil {
		model.Close()
		return nil, &LoadError{ModelID: modelID, Revision: opts.Revision, Err: err}
	}

	if err := model.To(ctx, placement); err != nil {
		model.Close()
		return nil, &LoadError{ModelID: modelID, Revision: opts.Revision, Err: fmt.Errorf("place model on %s: %w", placement, err)}
	}

	return &Handle{
		ModelID:   modelID,
		Revision:  opts.Revision,
		CacheRoot: l.cfg.CacheRoot,
		Dir:       dir,
		Placement: placement,
		Prompt:    opts.Prompt,
		Model:     model,
		Tokenizer: tok,
	}, nil
}

// load is the cache-hit path: only the local directory is consulted, except
// when the backend reports the requested variant missing. That variant is then
// fetched into the same directory and nothing is deleted.
//
// Only unreadable artifacts are reported as corruption. Cancellation, an
// unavailable runtime and placement failures are load errors.
func (l *Loader) load(ctx context.Context, logger *slog.Logger, modelID string, opts Options, dir, marker string, placement Placement) (*Handle, error) {
	logger.Debug("Loading model from cache", slog.String("marker", marker))

	loadErr := func(err error) error {
		return &LoadError{ModelID: modelID, Revision: opts.Revision, Err: err}
	}

	model, err := l.backend.LoadModel(ctx, dir, opts, placement.Precision)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, loadErr(ctx.Err())
	case errors.Is(err, ErrVariantNotCached):
		logger.Info("Cached checkpoint lacks the requested variant, fetching it",
			slog.String("marker", marker),
			slog.String("quantize", opts.Quantize.String()))
		return l.fetch(ctx, logger, modelID, opts, dir, placement)
	case errors.Is(err, ErrBackendUnavailable):
		return nil, loadErr(err)
	default:
		return nil, &CorruptCacheError{Dir: dir, Marker: marker, Err: err}
	}

	tok, err := l.backend.FetchTokenizer(ctx, TokenizerRequest{Ref: dir, Dir: dir, Local: true})
	if err != nil {
		model.Close()
		if ctx.Err() != nil {
			return nil, loadErr(ctx.Err())
		}
		return nil, &CorruptCacheError{Dir: dir, Marker: marker, Err: fmt.Errorf("load tokenizer: %w", err)}
	}

	if err := model.To(ctx, placement); err != nil {
		model.Close()
		return nil, loadErr(fmt.Errorf("place model on %s: %w", placement, err))
	}

	return &Handle{
		ModelID:   modelID,
		Revision:  opts.Revision,
		CacheRoot: l.cfg.CacheRoot,
		Dir:       dir,
		Placement: placement,
		CacheHit:  true,
		Marker:    marker,
		Prompt:    opts.Prompt,
		Model:     model,
		Tokenizer: tok,
	}, nil
}

// lock serialises check-and-populate for one cache directory.
func (l *Loader) lock(key string) func() {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
