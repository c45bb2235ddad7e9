package modelcache

import "context"

// Model is a loaded checkpoint that can be moved between devices.
type Model interface {
	// Path returns the checkpoint file or directory the model was loaded from.
	Path() string

	// Placement returns where the model currently lives.
	Placement() Placement

	// To moves the weights onto the given device at the given precision.
	To(ctx context.Context, placement Placement) error

	// Close releases any native resources held by the model.
	Close() error
}

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string, addSpecialTokens bool) ([]int, error)
	Decode(ids []int, skipSpecialTokens bool) string
	VocabSize() int
}

// FetchRequest describes a remote model fetch on a cache miss.
type FetchRequest struct {
	ModelID   string
	Revision  string
	Options   Options
	Token     string
	Precision Precision

	// Dir is the cache directory the backend may persist artifacts into.
	Dir string
}

// TokenizerRequest describes a tokenizer load. Ref is either a hub identifier
// or, on the cache-hit path, the local cache directory.
type TokenizerRequest struct {
	Ref      string
	Revision string
	Token    string
	Dir      string
	Local    bool
}

// Backend is the model-serving library the loader delegates to.
type Backend interface {
	// FetchModel retrieves a model from the remote source by identifier.
	FetchModel(ctx context.Context, req FetchRequest) (Model, error)

	// LoadModel loads a model from a local cache directory only.
	LoadModel(ctx context.Context, dir string, opts Options, precision Precision) (Model, error)

	// FetchTokenizer loads the tokenizer for a model identifier or local path.
	FetchTokenizer(ctx context.Context, req TokenizerRequest) (Tokenizer, error)
}
