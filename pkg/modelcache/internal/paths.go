package internal

import (
	"os"
	"path/filepath"
	"strings"
)

// CheckpointMarkers lists the files whose presence marks a cache directory as
// populated. pytorch_model.bin is the legacy marker written by older caches.
var CheckpointMarkers = []string{
	"pytorch_model.bin",
	"model.safetensors",
	"onnx/model.onnx",
	"onnx/model_fp16.onnx",
	"onnx/model_q8.onnx",
	"onnx/model_quantized.onnx",
	"onnx/model_q4.onnx",
}

// TokenizerFile is the HuggingFace fast-tokenizer artifact.
const TokenizerFile = "tokenizer.json"

// ConfigFile is the model configuration artifact.
const ConfigFile = "config.json"

// SanitizeModelID makes a hub identifier safe to use as a single path segment.
// "org/model" becomes "org_model".
func SanitizeModelID(modelID string) string {
	return strings.NewReplacer("/", "_", `\`, "_").Replace(modelID)
}

// ValidModelID reports whether modelID sanitizes to a directory name that
// stays inside the cache root and cannot collide with another id's revision.
func ValidModelID(modelID string) bool {
	name := SanitizeModelID(modelID)
	return strings.TrimSpace(name) != "" && name != "." && name != ".."
}

// GetModelPath returns the directory where a model revision is cached.
// An empty revision maps to the sanitized model directory itself.
func GetModelPath(basePath, modelID, revision string) string {
	return filepath.Join(basePath, SanitizeModelID(modelID), revision)
}

// GetModelFilePath returns the path to a specific file for a model revision.
func GetModelFilePath(basePath, modelID, revision, filename string) string {
	return filepath.Join(GetModelPath(basePath, modelID, revision), filepath.FromSlash(filename))
}

// FindMarker returns the first checkpoint marker present in dir.
func FindMarker(dir string) (string, bool) {
	for _, marker := range CheckpointMarkers {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(marker)))
		if err == nil && !info.IsDir() {
			return marker, true
		}
	}
	return "", false
}
