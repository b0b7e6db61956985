/*
Package cli provides command-line helpers for the tollgate command.

Output Formatting:

Command results are printed as aligned text or JSON:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	return formatter.FormatTo(os.Stdout, status)

Results implementing Fielder control their text rendering.

Errors:

ConfigError and CommandError wrap failures so that ExitCode can map them to
the process exit status (2 for configuration problems, 1 otherwise).

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
