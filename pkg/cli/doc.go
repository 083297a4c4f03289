/*
Package cli provides the output and error helpers shared by the relay
commands.

Output Formatting:

Command results implement Tabular and are printed as a go-pretty table, CSV
or JSON depending on the --output flag:

	format, err := cli.ParseFormat(flags.output)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, result)

JSON output encodes the result value itself, so results should carry json
tags for the fields they expose.

Errors:

Commands wrap failures in CommandError and configuration problems in
ConfigError; ExitCode maps them to the process exit status.

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
