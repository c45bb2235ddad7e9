package modelcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultHubEndpoint is the public HuggingFace Hub.
const DefaultHubEndpoint = "https://huggingface.co"

// DefaultRevision is requested from the hub when no revision is given.
const DefaultRevision = "main"

// ErrNotFound indicates the hub has no such repository, revision or file.
var ErrNotFound = errors.New("not found on hub")

// HubFile names a repository file to download.
type HubFile struct {
	Name     string
	Optional bool // a missing optional file is skipped
}

// Hub downloads model artifacts from a HuggingFace-compatible hub.
type Hub struct {
	endpoint    string
	client      *http.Client
	logger      *slog.Logger
	concurrency int
}

// NewHub creates a hub client. Empty endpoint uses DefaultHubEndpoint; nil
// client uses a fresh http.Client.
func NewHub(endpoint string, client *http.Client, logger *slog.Logger) *Hub {
	if endpoint == "" {
		endpoint = DefaultHubEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		endpoint:    strings.TrimRight(endpoint, "/"),
		client:      client,
		logger:      logger,
		concurrency: 4,
	}
}

// URL returns the resolve URL for a file in a repository revision.
func (h *Hub) URL(repo, revision, filename string) string {
	if revision == "" {
		revision = DefaultRevision
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s",
		h.endpoint, repo, url.PathEscape(revision), filename)
}

// Download fetches files into dir concurrently. Files already present and
// non-empty are skipped.
func (h *Hub) Download(ctx context.Context, repo, revision, token, dir string, files []HubFile) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)

	for _, f := range files {
		f := f
		g.Go(func() error {
			err := h.ensureFile(ctx, repo, revision, token, dir, f.Name)
			if err != nil && f.Optional && errors.Is(err, ErrNotFound) {
				h.logger.Debug("Optional file not on hub", slog.String("file", f.Name))
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// DownloadFirst fetches the first candidate that exists on the hub and returns
// its name. Companion files of a candidate (external weight data, say) are
// fetched before the candidate itself so the candidate only appears once its
// companions are in place.
func (h *Hub) DownloadFirst(ctx context.Context, repo, revision, token, dir string, candidates []string, companions func(name string) []HubFile) (string, error) {
	for _, name := range candidates {
		if companions != nil {
			if err := h.Download(ctx, repo, revision, token, dir, companions(name)); err != nil {
				return "", err
			}
		}
		err := h.ensureFile(ctx, repo, revision, token, dir, name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
		h.logger.Debug("Checkpoint variant not on hub", slog.String("file", name))
	}
	return "", NewFatalError(ErrNotFound, fmt.Sprintf("%s has none of %v", repo, candidates))
}

func (h *Hub) ensureFile(ctx context.Context, repo, revision, token, dir, filename string) error {
	dest := filepath.Join(dir, filepath.FromSlash(filename))

	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return NewFatalError(&FilesystemError{Op: "create directory", Path: filepath.Dir(dest), Err: err}, "")
	}

	h.logger.Info("Downloading", slog.String("repo", repo), slog.String("file", filename))
	if err := h.downloadFile(ctx, h.URL(repo, revision, filename), token, dest); err != nil {
		return fmt.Errorf("download %s: %w", filename, err)
	}
	return nil
}

// downloadFile streams rawURL into dest through a temporary file so dest only
// ever appears complete.
func (h *Hub) downloadFile(ctx context.Context, rawURL, token, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return NewFatalError(err, "build request")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return NewRecoverableError(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return NewFatalError(&FilesystemError{Op: "create temp file", Path: filepath.Dir(dest), Err: err}, "")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return NewRecoverableError(err, "failed to write file")
	}
	if err := tmp.Close(); err != nil {
		return NewFatalError(&FilesystemError{Op: "close temp file", Path: tmp.Name(), Err: err}, "")
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return NewFatalError(&FilesystemError{Op: "rename", Path: dest, Err: err}, "")
	}
	return nil
}

func classifyStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return NewFatalError(ErrNotFound, fmt.Sprintf("HTTP %d", code))
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return NewFatalError(nil, fmt.Sprintf("HTTP %d: authentication rejected", code))
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return NewRecoverableError(nil, fmt.Sprintf("HTTP %d: %s", code, resp.Status))
	default:
		return NewFatalError(nil, fmt.Sprintf("HTTP %d: %s", code, resp.Status))
	}
}
