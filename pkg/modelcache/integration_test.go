//go:build integration
// +build integration

package modelcache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/matryer/is"
)

// TestAcquireFromHubIntegration fetches a small ONNX export from the public hub,
// then loads it again from the cache. Needs network access and onnxruntime.
func TestAcquireFromHubIntegration(t *testing.T) {
	is := is.New(t)

	if err := ensureOrtEnv(); err != nil {
		t.Skipf("Skipping integration test, ONNX runtime not available: %v", err)
	}

	modelID := os.Getenv("SCENECAP_TEST_MODEL")
	if modelID == "" {
		modelID = "onnx-community/SmolLM2-135M-Instruct-ONNX"
	}

	cfg := DefaultConfig()
	cfg.CacheRoot = t.TempDir()
	cfg.Token = os.Getenv("HF_TOKEN")
	backend := NewONNXBackend(NewHub("", nil, quietLogger()), quietLogger())
	loader := New(cfg, backend, NewONNXProbe(quietLogger()), quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	opts := Options{Quantize: QuantizeInt4}
	first, err := loader.Acquire(ctx, modelID, opts)
	is.NoErr(err)
	defer first.Close()
	is.True(!first.CacheHit)

	ids, err := first.Tokenizer.Encode("a person walks", false)
	is.NoErr(err)
	is.True(len(ids) > 0)

	second, err := loader.Acquire(ctx, modelID, opts)
	is.NoErr(err)
	defer second.Close()
	is.True(second.CacheHit)
	is.Equal(second.Dir, first.Dir)
}
