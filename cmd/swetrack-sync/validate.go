package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/swetrack-sync/internal/infrastructure/logging"
	"github.com/nerrad567/swetrack-sync/internal/swetrack"
	"github.com/nerrad567/swetrack-sync/internal/tracker"
)

// Sentinel errors for the one-shot commands.
var (
	ErrTokenRejected      = errors.New("token rejected")
	ErrServiceUnreachable = errors.New("service unreachable")
	ErrRateLimited        = errors.New("rate limited by the service")
)

func newValidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configured token with a single roster call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}
			return validate(cmd.Context(), newClient(cfg), cmd.OutOrStdout())
		},
	}
}

// validate makes one roster call and, when it succeeds, reports the account
// identity. The account call is informational and may fail.
func validate(ctx context.Context, client *swetrack.Client, out io.Writer) error {
	records, err := tracker.FetchRoster(ctx, client, nil)
	if err != nil {
		return classify(err)
	}

	identity := ""
	if acct, acctErr := client.AccountInfo(ctx); acctErr == nil {
		identity = acct.Identity()
	}

	if identity != "" {
		fmt.Fprintf(out, "token accepted for account %s: %d devices\n", identity, len(records))
	} else {
		fmt.Fprintf(out, "token accepted: %d devices\n", len(records))
	}
	return nil
}

// classify maps an upstream failure onto a message an operator can act on.
func classify(err error) error {
	switch swetrack.KindOf(err) {
	case swetrack.KindAuth:
		return fmt.Errorf("%w: check the token in the SweTrack portal: %w", ErrTokenRejected, err)
	case swetrack.KindTransient:
		return fmt.Errorf("%w: %w", ErrServiceUnreachable, err)
	case swetrack.KindRateLimit:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	default:
		return fmt.Errorf("roster call failed: %w", err)
	}
}

func newPollCmd(flags *globalFlags) *cobra.Command {
	var extended bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one cycle and print the snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}

			settings := settingsFrom(cfg)
			if cmd.Flags().Changed("extended") {
				settings.FetchExtended = extended
			}

			log := logging.New(cfg.Logging, version)
			return poll(cmd.Context(), newClient(cfg), settings, log, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&extended, "extended", true, "fetch extended telemetry (overrides swetrack.fetch_extended)")
	return cmd
}

// poll runs one cycle and writes the published snapshot.
func poll(ctx context.Context, client tracker.API, settings tracker.Settings, log tracker.Logger, out io.Writer) error {
	coord := tracker.NewCoordinator(client, tracker.NewStore(), settings)
	if log != nil {
		coord.SetLogger(log)
	}

	report, err := coord.RunCycle(ctx, tracker.TriggerManual)
	if err != nil {
		return classify(err)
	}

	data, err := json.MarshalIndent(report.Snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
