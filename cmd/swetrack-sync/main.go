// swetrack-sync polls a SweTrack GPS account and republishes a normalised
// per-device snapshot to MQTT, InfluxDB, SQLite history and a REST/WebSocket
// API.
//
// Commands:
//   - run:      start the coordinator, sinks and API until SIGINT/SIGTERM
//   - validate: check the configured token with one roster call
//   - poll:     run one cycle and print the snapshot as JSON
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/swetrack-sync/internal/infrastructure/config"
	"github.com/nerrad567/swetrack-sync/internal/swetrack"
	"github.com/nerrad567/swetrack-sync/internal/tracker"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	envFile    string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "swetrack-sync",
		Short:         "Synchronise SweTrack GPS fleet telemetry",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "configuration file (default $SWETRACK_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "load environment variables from this file before reading config")

	root.AddCommand(
		newRunCmd(flags),
		newValidateCmd(flags),
		newPollCmd(flags),
	)
	return root
}

// resolveConfigPath returns the configuration path and whether the user
// named it explicitly.
func (f *globalFlags) resolveConfigPath() (string, bool) {
	if f.configPath != "" {
		return f.configPath, true
	}
	if path := os.Getenv("SWETRACK_CONFIG"); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// loadConfig loads the optional env file and then the configuration. When
// the default config file does not exist the configuration comes from the
// environment alone.
func (f *globalFlags) loadConfig() (*config.Config, string, error) {
	return f.load(godotenv.Load)
}

// reloadConfig is loadConfig for SIGHUP: values from the env file replace
// the ones loaded at startup.
func (f *globalFlags) reloadConfig() (*config.Config, string, error) {
	return f.load(godotenv.Overload)
}

func (f *globalFlags) load(loadEnv func(filenames ...string) error) (*config.Config, string, error) {
	if f.envFile != "" {
		if err := loadEnv(f.envFile); err != nil {
			return nil, "", fmt.Errorf("loading env file: %w", err)
		}
	}

	path, explicit := f.resolveConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.LoadFromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("loading config from environment: %w", err)
		}
		return cfg, "", nil
	}
	return nil, "", fmt.Errorf("loading config: %w", err)
}

// newClient builds the SweTrack client for cfg.
func newClient(cfg *config.Config) *swetrack.Client {
	return swetrack.NewClient(swetrack.Config{
		BaseURL:   cfg.SweTrack.BaseURL,
		Token:     cfg.SweTrack.Token,
		Timeout:   cfg.GetRequestTimeout(),
		UserAgent: "swetrack-sync/" + version,
	})
}

// settingsFrom maps the runtime options of cfg onto coordinator settings.
func settingsFrom(cfg *config.Config) tracker.Settings {
	return tracker.Settings{
		ScanInterval:     cfg.GetScanInterval(),
		FetchExtended:    cfg.SweTrack.FetchExtended,
		EnrichWorkers:    cfg.SweTrack.EnrichWorkers,
		ExtendedPageSize: cfg.SweTrack.ExtendedPageSize,
		ExtendedLookback: cfg.GetExtendedLookback(),
		UnavailableAfter: cfg.SweTrack.UnavailableAfter,
	}
}
