package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jpequegn/nextrun/internal/config"
	"github.com/jpequegn/nextrun/internal/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	verbose       bool
	profileName   string
	testThreads   int
	failFast      bool
	maxFail       int
	filterExprs   []string
	messageFormat string
	logger        *slog.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "nextrun",
	Short: "Concurrent test runner with per-test supervision",
	Long: `nextrun discovers, filters, and runs compiled test binaries under a
bounded-concurrency dispatcher: each test gets its own supervised process
with timeout, retry, and flaky-detection support, driven by a layered
profile configuration.`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogger()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "profile config file (default: ./nextrun.toml or ./nextrun.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "default", "profile to use from the config file")
	rootCmd.PersistentFlags().IntVar(&testThreads, "test-threads", 0, "global concurrency cap (0 = use profile/default)")
	rootCmd.PersistentFlags().BoolVar(&failFast, "fail-fast", false, "cancel the run after the first test failure")
	rootCmd.PersistentFlags().IntVar(&maxFail, "max-fail", 0, "cancel the run after this many failures (0 = unlimited)")
	rootCmd.PersistentFlags().StringArrayVarP(&filterExprs, "filter", "E", nil, "filter-set expression; may be given multiple times (union)")
	rootCmd.PersistentFlags().StringVar(&messageFormat, "message-format", "human", "reporter output format: human or json-lines")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	config.BindFlags(rootCmd)
}

// initConfig picks the config file path: --config if given, otherwise the
// first of ./nextrun.toml, ./nextrun.yaml, ./nextrun.yml that exists. The
// file itself is read later, by loadProfile.
func initConfig() {
	if cfgFile != "" {
		return
	}
	for _, candidate := range []string{"nextrun.toml", "nextrun.yaml", "nextrun.yml"} {
		if _, err := os.Stat(candidate); err == nil {
			cfgFile = candidate
			break
		}
	}
}

// initLogger sets up the global logger based on verbosity.
func initLogger() {
	level := slog.LevelInfo
	if verbose || viper.GetBool("verbose") {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// loadProfile loads the resolved Profile for this invocation, applying
// persistent-flag (or NEXTRUN_-prefixed env var, via BindFlags) overrides
// on top of whatever the config file declares (flags/env always win over
// the file).
func loadProfile() (*profile.Profile, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("no config file found (looked for ./nextrun.toml, ./nextrun.yaml; use --config)")
	}
	name := viper.GetString("profile")
	if name == "" {
		name = profileName
	}
	p, err := config.LoadFile(cfgFile, name, nil)
	if err != nil {
		return nil, err
	}
	if v := viper.GetInt("test-threads"); v > 0 {
		p.TestThreads = v
	}
	if viper.GetBool("fail-fast") {
		p.FailFast = true
	}
	if v := viper.GetInt("max-fail"); v > 0 {
		p.MaxFail = &v
	}
	return p, nil
}
