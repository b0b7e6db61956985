package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/proxy/middleware"
)

var ratelimitFlags struct {
	path    string
	format  string
	timeout time.Duration
}

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect and reset rate limit keys",
	Long: `Inspect and reset rate limit keys directly in the configured counter store.

Keys are the resolved caller keys, such as "user:alice" or "ip:10.0.0.1".
Only shared stores (redis, sqlite) are visible to this command; the memory
store lives inside the server process.

Examples:
  # Show the state of a key under the default quota
  tollgate ratelimit status user:alice --config config.yaml

  # Show the state under the quota of a route
  tollgate ratelimit status user:alice --path /api/search

  # Clear a key's window counter and block
  tollgate ratelimit reset user:alice`,
}

var ratelimitStatusCmd = &cobra.Command{
	Use:   "status <key>",
	Short: "Show the limiter state of a key",
	Args:  cobra.ExactArgs(1),
	RunE:  ratelimitStatus,
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Clear the window counter and block of a key",
	Args:  cobra.ExactArgs(1),
	RunE:  ratelimitReset,
}

func init() {
	rootCmd.AddCommand(ratelimitCmd)
	ratelimitCmd.AddCommand(ratelimitStatusCmd, ratelimitResetCmd)

	ratelimitCmd.PersistentFlags().DurationVar(&ratelimitFlags.timeout, "timeout", 10*time.Second, "store operation timeout")
	ratelimitStatusCmd.Flags().StringVar(&ratelimitFlags.path, "path", "/", "request path selecting the route quota")
	ratelimitStatusCmd.Flags().StringVar(&ratelimitFlags.format, "format", "text", "output format: text, json")
}

// statusView renders a limiter status for the terminal.
type statusView struct {
	*ratelimit.Status
}

func (v statusView) Fields() []cli.Field {
	return []cli.Field{
		{Label: "Key", Value: v.Key},
		{Label: "State", Value: v.State},
		{Label: "Hits", Value: fmt.Sprintf("%d / %d", v.TotalHits, v.Limit)},
		{Label: "Remaining", Value: v.Remaining},
		{Label: "Window", Value: v.Window},
		{Label: "Resets at", Value: v.ResetTime.Format(time.RFC3339)},
		{Label: "Blocked", Value: v.Blocked},
	}
}

// openLimiter loads the configuration and opens a limiter on its store.
func openLimiter(ctx context.Context) (*config.Config, *ratelimit.Limiter, storage.Store, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, nil, cli.WrapConfigError(err)
	}

	store, err := storage.Open(ctx, storage.OptionsFrom(cfg.CounterStore))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open counter store: %w", err)
	}

	limiter := ratelimit.New(store, ratelimit.Config{
		Prefix:       cfg.RateLimit.KeyPrefix,
		StoreTimeout: ratelimitFlags.timeout,
	})
	return cfg, limiter, store, nil
}

func ratelimitStatus(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(ratelimitFlags.format))
	if err != nil {
		return cli.NewCommandError("ratelimit status", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), ratelimitFlags.timeout)
	defer cancel()

	cfg, limiter, store, err := openLimiter(ctx)
	if err != nil {
		return cli.NewCommandError("ratelimit status", err)
	}
	defer store.Close()

	admission := middleware.NewAdmission(limiter, middleware.AdmissionConfigFrom(cfg.RateLimit))
	status, err := limiter.Status(ctx, args[0], admission.OptionsFor(ratelimitFlags.path))
	if err != nil {
		return cli.NewCommandError("ratelimit status", err)
	}

	if cli.OutputFormat(ratelimitFlags.format) == cli.FormatJSON {
		return formatter.FormatTo(cmd.OutOrStdout(), status)
	}
	return formatter.FormatTo(cmd.OutOrStdout(), statusView{status})
}

func ratelimitReset(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), ratelimitFlags.timeout)
	defer cancel()

	_, limiter, store, err := openLimiter(ctx)
	if err != nil {
		return cli.NewCommandError("ratelimit reset", err)
	}
	defer store.Close()

	if err := limiter.Reset(ctx, args[0]); err != nil {
		return cli.NewCommandError("ratelimit reset", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Reset %s\n", args[0])
	return nil
}
