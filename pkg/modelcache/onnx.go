package modelcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/goccy/go-json"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/chriscow/scenecap-go/pkg/modelcache/internal"
)

func init() {
	RegisterBackend("onnx", func(cfg Config) (Backend, error) {
		return NewONNXBackend(NewHub(cfg.HubEndpoint, nil, nil), nil), nil
	})
}

// auxFiles are fetched before the weights on a cache miss.
var auxFiles = []HubFile{
	{Name: internal.ConfigFile, Optional: true},
	{Name: internal.TokenizerFile},
	{Name: "tokenizer_config.json", Optional: true},
	{Name: "special_tokens_map.json", Optional: true},
	{Name: "generation_config.json", Optional: true},
}

// graphCandidates lists ONNX graph files in order of preference.
func graphCandidates(q Quantization, p Precision) []string {
	switch q {
	case QuantizeInt8:
		return []string{"onnx/model_q8.onnx", "onnx/model_quantized.onnx"}
	case QuantizeInt4:
		return []string{"onnx/model_q4.onnx"}
	}
	if p == PrecisionHalf16 {
		return []string{"onnx/model_fp16.onnx", "onnx/model.onnx"}
	}
	return []string{"onnx/model.onnx", "onnx/model_fp16.onnx"}
}

// externalData names the weight file that large graphs keep beside the graph.
func externalData(graph string) []HubFile {
	return []HubFile{{Name: graph + "_data", Optional: true}}
}

// ONNXBackend fetches ONNX exports from the hub and runs them with onnxruntime.
type ONNXBackend struct {
	hub    *Hub
	logger *slog.Logger
}

// NewONNXBackend creates an ONNX backend on top of a hub client.
func NewONNXBackend(hub *Hub, logger *slog.Logger) *ONNXBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &ONNXBackend{hub: hub, logger: logger}
}

// FetchModel downloads the tokenizer, config and the best matching graph into
// req.Dir. The graph is written last and is the cache marker.
func (b *ONNXBackend) FetchModel(ctx context.Context, req FetchRequest) (Model, error) {
	if err := b.hub.Download(ctx, req.ModelID, req.Revision, req.Token, req.Dir, auxFiles); err != nil {
		return nil, err
	}

	if err := checkRemoteCode(req.Dir, req.Options.TrustRemoteCode); err != nil {
		return nil, err
	}

	graph, err := b.hub.DownloadFirst(ctx, req.ModelID, req.Revision, req.Token, req.Dir,
		graphCandidates(req.Options.Quantize, req.Precision), externalData)
	if err != nil {
		return nil, err
	}

	b.logger.Info("Fetched ONNX graph",
		slog.String("model_id", req.ModelID),
		slog.String("graph", graph))

	m, err := openGraph(filepath.Join(req.Dir, filepath.FromSlash(graph)))
	if err != nil {
		// a graph the runtime rejects won't get better by downloading it again
		return nil, NewFatalError(err, "open graph")
	}
	return m, nil
}

// LoadModel opens the best matching graph already present in dir. A directory
// holding only other variants yields ErrVariantNotCached.
func (b *ONNXBackend) LoadModel(ctx context.Context, dir string, opts Options, precision Precision) (Model, error) {
	for _, graph := range graphCandidates(opts.Quantize, precision) {
		path := filepath.Join(dir, filepath.FromSlash(graph))
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return openGraph(path)
	}
	return nil, fmt.Errorf("%w: no ONNX graph for %s/%s in %s", ErrVariantNotCached, opts.Quantize, precision, dir)
}

// FetchTokenizer loads tokenizer.json, downloading it first unless req.Local.
func (b *ONNXBackend) FetchTokenizer(ctx context.Context, req TokenizerRequest) (Tokenizer, error) {
	if !req.Local {
		files := []HubFile{{Name: internal.TokenizerFile}}
		if err := b.hub.Download(ctx, req.Ref, req.Revision, req.Token, req.Dir, files); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(req.Dir, internal.TokenizerFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tokenizer file not found: %s", path)
	}

	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, NewFatalError(err, "failed to load tokenizer")
	}
	return &hfTokenizer{tk: tk}, nil
}

type modelConfig struct {
	AutoMap map[string]any `json:"auto_map"`
}

// checkRemoteCode refuses repositories that ship custom modelling code unless trusted.
func checkRemoteCode(dir string, trust bool) error {
	data, err := os.ReadFile(filepath.Join(dir, internal.ConfigFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return NewFatalError(err, "read config")
	}

	var cfg modelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return NewFatalError(err, "decode config")
	}
	if len(cfg.AutoMap) > 0 && !trust {
		return NewFatalError(nil, "model requires custom code; set trust_remote_code to load it")
	}
	return nil
}

// ortModel is an ONNX graph plus the session created for its current placement.
type ortModel struct {
	path      string
	inputs    []ort.InputOutputInfo
	outputs   []ort.InputOutputInfo
	placement Placement
	session   *ort.DynamicAdvancedSession
}

// openGraph reads the graph's signature without creating a session.
func openGraph(path string) (*ortModel, error) {
	if err := ensureOrtEnv(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize ONNX runtime: %w", ErrBackendUnavailable, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph %s: %w", path, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("graph %s has no inputs or outputs", path)
	}

	return &ortModel{path: path, inputs: inputs, outputs: outputs}, nil
}

func (m *ortModel) Path() string { return m.path }

func (m *ortModel) Placement() Placement { return m.placement }

// Session returns the runtime session, nil until To has been called.
func (m *ortModel) Session() *ort.DynamicAdvancedSession { return m.session }

// To creates a session bound to the placement's execution provider.
func (m *ortModel) To(ctx context.Context, p Placement) error {
	if m.session != nil && m.placement == p {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(max(1, runtime.NumCPU()/2)); err != nil {
		return fmt.Errorf("failed to set intra-op threads: %w", err)
	}

	if p.Device == DeviceAccelerator {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("failed to create CUDA provider options: %w", err)
		}
		defer cudaOptions.Destroy()

		if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
			return fmt.Errorf("failed to configure CUDA provider: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return fmt.Errorf("failed to append CUDA provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(m.path, ioNames(m.inputs), ioNames(m.outputs), options)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}

	if m.session != nil {
		m.session.Destroy()
	}
	m.session = session
	m.placement = p
	return nil
}

func (m *ortModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

func ioNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// hfTokenizer adapts a HuggingFace tokenizer.json tokenizer.
type hfTokenizer struct {
	tk *tokenizer.Tokenizer
}

func (t *hfTokenizer) Encode(text string, addSpecialTokens bool) ([]int, error) {
	encoding, err := t.tk.EncodeSingle(text, addSpecialTokens)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}
	return encoding.GetIds(), nil
}

func (t *hfTokenizer) Decode(ids []int, skipSpecialTokens bool) string {
	return t.tk.Decode(ids, skipSpecialTokens)
}

func (t *hfTokenizer) VocabSize() int {
	return t.tk.GetVocabSize(true)
}

// ONNXProbe reports an accelerator when onnxruntime accepts the CUDA
// execution provider. The answer is computed once.
type ONNXProbe struct {
	once      sync.Once
	available bool
	logger    *slog.Logger
}

// NewONNXProbe creates a probe backed by onnxruntime.
func NewONNXProbe(logger *slog.Logger) *ONNXProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &ONNXProbe{logger: logger}
}

// AcceleratorAvailable reports whether the CUDA execution provider can be used.
func (p *ONNXProbe) AcceleratorAvailable() bool {
	p.once.Do(func() {
		p.available = probeCUDA()
		p.logger.Debug("Accelerator probe", slog.Bool("cuda", p.available))
	})
	return p.available
}

func probeCUDA() bool {
	if err := ensureOrtEnv(); err != nil {
		return false
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return false
	}
	defer options.Destroy()

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return false
	}
	defer cudaOptions.Destroy()

	return options.AppendExecutionProviderCUDA(cudaOptions) == nil
}

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the ONNX runtime environment exactly once per process.
func ensureOrtEnv() error {
	ortOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			// Homebrew default
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}

		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}
