package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/chriscow/scenecap-go/pkg/config"
	"github.com/chriscow/scenecap-go/pkg/modelcache"
	_ "github.com/chriscow/scenecap-go/pkg/modelcache/fake" // Import to register the fake backend
	"github.com/chriscow/scenecap-go/pkg/scene"
	"github.com/chriscow/scenecap-go/pkg/version"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scenecap",
		Short: "scenecap - model cache and scene records for video captioning",
		Long: `scenecap fetches causal language models and their tokenizers from the
HuggingFace Hub, keeps them in a local cache, and builds scene records.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().String("backend", "", "Model backend ("+strings.Join(modelcache.Backends(), ", ")+")")
	rootCmd.PersistentFlags().String("cache-root", "", "Model cache directory")

	rootCmd.AddCommand(newVersionCmd(), newModelCmd(), newSceneCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo())
		},
	}
}

func newModelCmd() *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Model cache commands",
	}

	acquireCmd := &cobra.Command{
		Use:   "acquire <model-id>",
		Short: "Load a model from the cache, downloading it first if needed",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}
	acquireCmd.Flags().String("revision", "", "Hub revision (branch, tag or commit)")
	acquireCmd.Flags().String("quantize", "none", "Weight quantization (none, int8, int4)")
	acquireCmd.Flags().Bool("trust-remote-code", true, "Allow repositories that ship custom model code")
	acquireCmd.Flags().String("prompt", "", "Caption prompt to keep with the model")
	acquireCmd.Flags().String("encode", "", "Tokenize this text with the loaded tokenizer")

	pathCmd := &cobra.Command{
		Use:   "path <model-id>",
		Short: "Print the cache directory for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			revision, _ := cmd.Flags().GetString("revision")
			loader := modelcache.New(cfg.ModelCache(), nil, nil, slog.Default())
			fmt.Fprintln(cmd.OutOrStdout(), loader.Path(args[0], revision))
			return nil
		},
	}
	pathCmd.Flags().String("revision", "", "Hub revision (branch, tag or commit)")

	statusCmd := &cobra.Command{
		Use:   "status <model-id>",
		Short: "Report whether a model is cached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			revision, _ := cmd.Flags().GetString("revision")
			loader := modelcache.New(cfg.ModelCache(), nil, nil, slog.Default())
			st := loader.Status(args[0], revision)
			return writeJSON(cmd.OutOrStdout(), struct {
				ModelID  string `json:"model_id"`
				Revision string `json:"revision,omitempty"`
				Dir      string `json:"dir"`
				Cached   bool   `json:"cached"`
				Marker   string `json:"marker,omitempty"`
			}{args[0], revision, st.Dir, st.Cached, st.Marker})
		},
	}
	statusCmd.Flags().String("revision", "", "Hub revision (branch, tag or commit)")

	modelCmd.AddCommand(acquireCmd, pathCmd, statusCmd)
	return modelCmd
}

func runAcquire(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Log, cmd.ErrOrStderr())

	revision, _ := cmd.Flags().GetString("revision")
	quantize, _ := cmd.Flags().GetString("quantize")
	trust, _ := cmd.Flags().GetBool("trust-remote-code")
	text, _ := cmd.Flags().GetString("encode")
	prompt, _ := cmd.Flags().GetString("prompt")

	q, err := modelcache.ParseQuantization(quantize)
	if err != nil {
		return err
	}

	mc := cfg.ModelCache()
	backend, err := modelcache.NewBackend(cfg.Backend, mc)
	if err != nil {
		return err
	}

	var probe modelcache.Probe = modelcache.StaticProbe(false)
	if cfg.Backend == "onnx" {
		probe = modelcache.NewONNXProbe(logger)
	}

	logger.Info("Acquiring model",
		slog.String("service", "scenecap"),
		slog.String("version", version.Version),
		slog.String("backend", cfg.Backend),
		slog.String("model_id", args[0]),
		slog.String("cache_root", mc.CacheRoot))

	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loader := modelcache.New(mc, backend, probe, logger)
	h, err := loader.Acquire(ctx, args[0], modelcache.Options{
		Revision:        revision,
		Quantize:        q,
		TrustRemoteCode: trust,
		Prompt:          prompt,
	})
	if err != nil {
		logger.Error("Acquire failed", slog.String("error", err.Error()))
		return err
	}
	defer h.Close()

	out := acquireResult{
		ModelID:   h.ModelID,
		Revision:  h.Revision,
		Dir:       h.Dir,
		CacheHit:  h.CacheHit,
		Marker:    h.Marker,
		Device:    h.Device().String(),
		Precision: h.Precision().String(),
		VocabSize: h.Tokenizer.VocabSize(),
		Prompt:    h.Prompt,
	}
	if text != "" {
		ids, err := h.Tokenizer.Encode(text, true)
		if err != nil {
			return err
		}
		out.TokenIDs = ids
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

type acquireResult struct {
	ModelID   string `json:"model_id"`
	Revision  string `json:"revision,omitempty"`
	Dir       string `json:"dir"`
	CacheHit  bool   `json:"cache_hit"`
	Marker    string `json:"marker,omitempty"`
	Device    string `json:"device"`
	Precision string `json:"precision"`
	VocabSize int    `json:"vocab_size"`
	Prompt    string `json:"prompt,omitempty"`
	TokenIDs  []int  `json:"token_ids,omitempty"`
}

func newSceneCmd() *cobra.Command {
	sceneCmd := &cobra.Command{
		Use:   "scene",
		Short: "Scene record commands",
	}

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Build a scene record and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			actions, _ := cmd.Flags().GetStringSlice("action")
			objects, _ := cmd.Flags().GetStringSlice("object")
			texts, _ := cmd.Flags().GetStringSlice("text")
			language, _ := cmd.Flags().GetString("language")
			videoType, _ := cmd.Flags().GetString("video-type")
			duration, _ := cmd.Flags().GetInt("duration")
			start, _ := cmd.Flags().GetInt("start")
			end, _ := cmd.Flags().GetInt("end")

			r := scene.New(description, actions, objects, texts,
				scene.WithLanguage(language),
				scene.WithVideoType(videoType),
				scene.WithDuration(duration),
				scene.WithSceneSpan(start, end))
			return writeJSON(cmd.OutOrStdout(), r)
		},
	}
	newCmd.Flags().String("description", "", "What happens in the scene")
	newCmd.Flags().StringSlice("action", nil, "Action seen in the scene (repeatable)")
	newCmd.Flags().StringSlice("object", nil, "Object seen in the scene (repeatable)")
	newCmd.Flags().StringSlice("text", nil, "Text visible in the scene (repeatable)")
	newCmd.Flags().String("language", scene.DefaultLanguage, "Language of the scene")
	newCmd.Flags().String("video-type", scene.DefaultVideoType, "Kind of source video")
	newCmd.Flags().Int("duration", 0, "Scene length in seconds")
	newCmd.Flags().Int("start", 0, "Scene start offset in seconds")
	newCmd.Flags().Int("end", 0, "Scene end offset in seconds")

	sceneCmd.AddCommand(newCmd)
	return sceneCmd
}

// loadConfig resolves the config file and environment, then applies flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
	if root, _ := cmd.Flags().GetString("cache-root"); root != "" {
		cfg.CacheRoot = root
	}
	return cfg, nil
}

func setupLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{}

	// Set log level
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	// Choose handler based on format; stdout is reserved for command output
	if cfg.Format == "console" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
