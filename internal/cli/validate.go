package cli

import (
	"fmt"
	"io"

	"tally/internal/config"
)

// runValidate builds the handler for the validate command.
func runValidate(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		fs, configPath := newFlagSet(cmd, stderr)
		if code, ok := parseFlags(cmd, fs, args, stdout, stderr); !ok {
			return code
		}
		if rejectArgs(cmd, fs, stderr) {
			return ExitUsage
		}

		cfg, err := config.Load(resolveConfigPath(*configPath))
		if err != nil {
			fmt.Fprintf(stderr, "Validation failed:\n%s\n", err.Error())
			return ExitError
		}
		_, problems := config.ParseCategoryLimits(cfg.Limits.Categories)
		for _, problem := range problems {
			fmt.Fprintf(stdout, "warning: %v (entry will be ignored)\n", problem)
		}
		fmt.Fprintln(stdout, "Config OK")
		return ExitOK
	}
}
