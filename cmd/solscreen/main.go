package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/solscreen/solscreen/internal/config"
	"github.com/solscreen/solscreen/internal/dexscreener"
	"github.com/solscreen/solscreen/internal/store"
)

const (
	appName = "solscreen"
	version = "v1.2.0"
)

// errInvariant marks a self-check failure so main can exit with code 2.
var errInvariant = errors.New("invariant check failed")

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Version: version,
		Short:   "Solana DEX pair collector and drawdown screener",
		Long: `solscreen collects DEX pair snapshots into a local SQLite store,
tracks dump/reversal state per pair, screens for all-time-high drawdown
setups, and evaluates emitted signals after the fact.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("db", "", "SQLite database path (default from config)")
	rootCmd.PersistentFlags().String("config", "", "Optional yaml config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(
		newCollectCmd(),
		newCollectNewCmd(),
		newPruneCmd(),
		newExportCmd(),
		newDumpWatchlistCmd(),
		newDumpWatchlistExportCmd(),
		newSelfCheckCmd(),
		newCheckCmd(),
		newStrategyCmd(),
		newAnalyzeCmd(),
		newStatusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errInvariant) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// runtime is everything a subcommand needs wired up front.
type runtime struct {
	cfg config.File
	log zerolog.Logger
}

// loadRuntime resolves the config overlay, flag overrides, and logger.
func loadRuntime(cmd *cobra.Command) (runtime, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return runtime{}, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DBPath = db
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return runtime{}, fmt.Errorf("bad log level %q: %w", cfg.LogLevel, err)
	}

	var out = os.Stderr
	logger := zerolog.New(out)
	if term.IsTerminal(int(out.Fd())) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
	}
	logger = logger.Level(level).With().Timestamp().Logger()

	return runtime{cfg: cfg, log: logger}, nil
}

func (r runtime) openStore() (*store.Store, error) {
	return store.Open(r.cfg.DBPath)
}

func (r runtime) newClient() *dexscreener.Client {
	return dexscreener.New(dexscreener.Options{
		BaseURL:      r.cfg.BaseURL,
		Timeout:      r.cfg.Timeout(),
		MaxRetries:   r.cfg.MaxRetries,
		RateLimitRPS: r.cfg.RateLimitRPS,
		Logger:       r.log,
	})
}
