package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
)

var (
	// Version is the semantic version (set by build flags)
	Version = "0.1.0"
	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"
	// BuildDate is the build timestamp (set by build flags)
	BuildDate = "unknown"
)

var versionFlags struct {
	format string
}

// buildInfo is the output of the version command.
type buildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func currentBuildInfo() buildInfo {
	return buildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (b buildInfo) Fields() []cli.Field {
	return []cli.Field{
		{Label: "Git Commit", Value: b.GitCommit},
		{Label: "Build Date", Value: b.BuildDate},
		{Label: "Go Version", Value: b.GoVersion},
		{Label: "OS/Arch", Value: b.Platform},
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the Tollgate version with its Git commit, build date and toolchain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := cli.OutputFormat(versionFlags.format)
		formatter, err := cli.NewFormatter(format)
		if err != nil {
			return cli.NewCommandError("version", err)
		}

		info := currentBuildInfo()
		out := cmd.OutOrStdout()
		if format != cli.FormatJSON {
			fmt.Fprintf(out, "Tollgate %s\n", info.Version)
		}
		return formatter.FormatTo(out, info)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringVar(&versionFlags.format, "format", "text", "output format: text, json")
}
