package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load the configuration file with environment overrides applied and report
every invalid field.

Examples:
  # Validate the file passed with --config
  tollgate validate --config config.yaml

  # Print the effective configuration summary as JSON
  tollgate validate --config config.yaml --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json")
}

// configSummary is the part of the effective configuration worth eyeballing.
type configSummary struct {
	ListenAddress string `json:"listen_address"`
	RateLimit     bool   `json:"ratelimit_enabled"`
	MaxRequests   int64  `json:"max_requests"`
	Window        string `json:"window"`
	RouteQuotas   int    `json:"route_quotas"`
	CounterStore  string `json:"counter_store"`
	Database      bool   `json:"database_enabled"`
	NotifySink    string `json:"notify_sink"`
}

func (s configSummary) Fields() []cli.Field {
	return []cli.Field{
		{Label: "Listen address", Value: s.ListenAddress},
		{Label: "Rate limiting", Value: s.RateLimit},
		{Label: "Default quota", Value: fmt.Sprintf("%d per %s", s.MaxRequests, s.Window)},
		{Label: "Route quotas", Value: s.RouteQuotas},
		{Label: "Counter store", Value: s.CounterStore},
		{Label: "Database", Value: s.Database},
		{Label: "Notify sink", Value: s.NotifySink},
	}
}

func summarize(cfg *config.Config) configSummary {
	return configSummary{
		ListenAddress: cfg.Server.ListenAddress,
		RateLimit:     cfg.RateLimit.Enabled,
		MaxRequests:   cfg.RateLimit.Default.MaxRequests,
		Window:        cfg.RateLimit.Default.Window.String(),
		RouteQuotas:   len(cfg.RateLimit.Routes),
		CounterStore:  cfg.CounterStore.Backend,
		Database:      cfg.Database.Enabled,
		NotifySink:    cfg.Notify.Sink,
	}
}

func validateConfig(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(validateFlags.format))
	if err != nil {
		return cli.NewCommandError("validate", err)
	}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.WrapConfigError(err)
	}

	return formatter.FormatTo(cmd.OutOrStdout(), summarize(cfg))
}
