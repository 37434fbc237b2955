package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lazypower/metacog/internal/config"
	"github.com/lazypower/metacog/internal/engine"
	"github.com/lazypower/metacog/internal/lens"
	"github.com/lazypower/metacog/internal/similarity"
	"github.com/lazypower/metacog/internal/store"
)

var (
	verbose    bool
	storePath  string
	configPath string

	cfg    = config.Default()
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "metacog",
	Short: "Weighted, decaying memory of what an agent has learned",
	Long: `metacog keeps a store of short insights in six categories. Insights are
reinforced when they recur, fade when they don't, link to related insights,
and compile into a token-budgeted lens for the next reasoning session.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command, cancelling on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Store path (.json, or .db for SQLite)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: search ~/.metacog, $XDG_CONFIG_HOME/metacog)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(reweaveCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(integrateCmd)
}

// setup loads configuration and builds the logger before any subcommand.
func setup(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd {
		return nil
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}

	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err = zc.Build()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}

// newEngine builds the lifecycle engine from configuration. Embeddings are
// only attempted when an endpoint is enabled; otherwise scoring is lexical.
func newEngine() *engine.Engine {
	var emb similarity.Embedder
	if cfg.Embedding.Enabled {
		emb = similarity.NewHTTPEmbedder(cfg.Embedding.Endpoint, cfg.Embedding.Model, cfg.Embedding.Timeout)
	}
	eng := engine.New(similarity.NewEngine(emb, similarity.Untested, logger), logger)
	eng.Workers = cfg.Embedding.Workers
	eng.MaxEntries = cfg.Store.MaxEntries
	return eng
}

// openStore resolves the configured store path and loads it. A corrupt store
// is backed up and replaced by an empty one.
func openStore() (store.Backend, *store.Store, error) {
	path := cfg.Store.Path
	if path == "" {
		var err error
		path, err = store.DefaultPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve store path: %w", err)
		}
	}
	b := store.Open(path)
	st, err := store.LoadOrReset(b, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load store: %w", err)
	}
	logger.Debug("store loaded",
		zap.String("path", b.Path()),
		zap.Int("entries", len(st.Entries)),
		zap.Int("edges", len(st.Edges)))
	return b, st, nil
}

func saveStore(b store.Backend, st *store.Store) error {
	if err := b.Save(st); err != nil {
		logger.Error("store: save failed", zap.String("path", b.Path()), zap.Error(err))
		return err
	}
	return nil
}

func lensPath() (string, error) {
	if cfg.Lens.Path != "" {
		return cfg.Lens.Path, nil
	}
	return lens.DefaultPath()
}
