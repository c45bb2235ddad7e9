package modelcache

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Quantization selects a reduced-precision variant of the checkpoint.
type Quantization int

const (
	QuantizeNone Quantization = iota
	QuantizeInt8
	QuantizeInt4
)

func (q Quantization) String() string {
	switch q {
	case QuantizeNone:
		return "none"
	case QuantizeInt8:
		return "int8"
	case QuantizeInt4:
		return "int4"
	default:
		return fmt.Sprintf("quantization(%d)", int(q))
	}
}

// ParseQuantization converts a flag or config value into a Quantization.
func ParseQuantization(s string) (Quantization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return QuantizeNone, nil
	case "int8", "q8", "8bit":
		return QuantizeInt8, nil
	case "int4", "q4", "4bit":
		return QuantizeInt4, nil
	default:
		return QuantizeNone, fmt.Errorf("unknown quantization %q (expected none, int8 or int4)", s)
	}
}

// Options are the recognised loading flags forwarded to the backend.
// The zero value loads the default revision at full or half precision.
type Options struct {
	Revision        string
	Quantize        Quantization
	TrustRemoteCode bool

	// Prompt is carried onto the Handle; it does not affect loading or the cache key.
	Prompt string
}

// Validate rejects options the cache layout or backends can't honour.
func (o Options) Validate() error {
	switch o.Quantize {
	case QuantizeNone, QuantizeInt8, QuantizeInt4:
	default:
		return fmt.Errorf("invalid quantization: %s", o.Quantize)
	}

	if o.Revision == "" {
		return nil
	}
	if filepath.IsAbs(o.Revision) || strings.HasPrefix(o.Revision, "/") {
		return fmt.Errorf("invalid revision %q: must be relative", o.Revision)
	}
	for _, seg := range strings.FieldsFunc(o.Revision, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." || seg == "." {
			return fmt.Errorf("invalid revision %q: must not contain '.' or '..' segments", o.Revision)
		}
	}
	return nil
}
