package fake

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/scenecap-go/pkg/modelcache"
)

func init() {
	modelcache.RegisterBackend("fake", func(cfg modelcache.Config) (modelcache.Backend, error) {
		return NewFakeBackend(), nil
	})
}

// MarkerFile is the checkpoint the fake backend writes on a successful fetch.
const MarkerFile = "onnx/model.onnx"

// FakeBackend is an in-memory backend that records every call.
type FakeBackend struct {
	mu sync.Mutex

	fetchCalls     []modelcache.FetchRequest
	loadCalls      []string
	tokenizerCalls []modelcache.TokenizerRequest

	fetchErrors []error // returned by successive FetchModel calls
	loadErr     error
	placeErr    error
	delay       time.Duration
	skipMarker  bool
}

// NewFakeBackend creates a fake backend that succeeds and writes a marker on fetch.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{}
}

// WithFetchErrors makes the next FetchModel calls fail with errs, in order.
func (f *FakeBackend) WithFetchErrors(errs ...error) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrors = append(f.fetchErrors, errs...)
	return f
}

// WithLoadError makes every LoadModel call fail with err.
func (f *FakeBackend) WithLoadError(err error) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadErr = err
	return f
}

// WithPlacementError makes Model.To fail with err.
func (f *FakeBackend) WithPlacementError(err error) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeErr = err
	return f
}

// WithDelay makes FetchModel block for d or until its context ends.
func (f *FakeBackend) WithDelay(d time.Duration) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// WithoutMarker stops FetchModel from writing the checkpoint marker.
func (f *FakeBackend) WithoutMarker() *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipMarker = true
	return f
}

// FetchModel records the request and simulates a download into req.Dir.
func (f *FakeBackend) FetchModel(ctx context.Context, req modelcache.FetchRequest) (modelcache.Model, error) {
	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, req)
	var err error
	if len(f.fetchErrors) > 0 {
		err = f.fetchErrors[0]
		f.fetchErrors = f.fetchErrors[1:]
	}
	delay := f.delay
	skipMarker := f.skipMarker
	placeErr := f.placeErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	if !skipMarker {
		marker := filepath.Join(req.Dir, filepath.FromSlash(MarkerFile))
		if err := os.MkdirAll(filepath.Dir(marker), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(marker, []byte("fake checkpoint for "+req.ModelID), 0644); err != nil {
			return nil, err
		}
	}

	return &FakeModel{path: req.ModelID, placeErr: placeErr}, nil
}

// LoadModel records the local directory and returns a model rooted there.
func (f *FakeBackend) LoadModel(ctx context.Context, dir string, opts modelcache.Options, precision modelcache.Precision) (modelcache.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loadCalls = append(f.loadCalls, dir)
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &FakeModel{path: dir, placeErr: f.placeErr}, nil
}

// FetchTokenizer records the request and returns a whitespace tokenizer.
func (f *FakeBackend) FetchTokenizer(ctx context.Context, req modelcache.TokenizerRequest) (modelcache.Tokenizer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokenizerCalls = append(f.tokenizerCalls, req)
	return NewFakeTokenizer(), nil
}

// FetchCalls returns a copy of every FetchModel request.
func (f *FakeBackend) FetchCalls() []modelcache.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]modelcache.FetchRequest(nil), f.fetchCalls...)
}

// LoadCalls returns a copy of every directory passed to LoadModel.
func (f *FakeBackend) LoadCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loadCalls...)
}

// TokenizerCalls returns a copy of every FetchTokenizer request.
func (f *FakeBackend) TokenizerCalls() []modelcache.TokenizerRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]modelcache.TokenizerRequest(nil), f.tokenizerCalls...)
}

// FakeModel tracks placement without holding any weights.
type FakeModel struct {
	mu        sync.Mutex
	path      string
	placement modelcache.Placement
	placed    bool
	closed    bool
	placeErr  error
}

func (m *FakeModel) Path() string { return m.path }

func (m *FakeModel) Placement() modelcache.Placement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placement
}

func (m *FakeModel) To(ctx context.Context, p modelcache.Placement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.placeErr != nil {
		return m.placeErr
	}
	m.placement = p
	m.placed = true
	return nil
}

// Placed reports whether To succeeded at least once.
func (m *FakeModel) Placed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placed
}

func (m *FakeModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *FakeModel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// FakeTokenizer assigns ids to whitespace-separated words as it sees them.
type FakeTokenizer struct {
	mu    sync.Mutex
	vocab map[string]int
	words []string
}

// NewFakeTokenizer creates an empty whitespace tokenizer.
func NewFakeTokenizer() *FakeTokenizer {
	return &FakeTokenizer{vocab: make(map[string]int)}
}

func (t *FakeTokenizer) Encode(text string, addSpecialTokens bool) ([]int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fields := strings.Fields(text)
	ids := make([]int, 0, len(fields))
	for _, w := range fields {
		id, ok := t.vocab[w]
		if !ok {
			id = len(t.words)
			t.vocab[w] = id
			t.words = append(t.words, w)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *FakeTokenizer) Decode(ids []int, skipSpecialTokens bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if id >= 0 && id < len(t.words) {
			words = append(words, t.words[id])
		}
	}
	return strings.Join(words, " ")
}

func (t *FakeTokenizer) VocabSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.words)
}
