package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// defaultConfigPath is used when neither --config nor TALLY_CONFIG is set.
const defaultConfigPath = "tally.yml"

// newFlagSet builds a flag set with the shared --config flag.
func newFlagSet(cmd *Command, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (default: $TALLY_CONFIG or tally.yml)")
	return fs, configPath
}

// parseFlags parses args and reports the exit code to use on failure.
func parseFlags(cmd *Command, fs *flag.FlagSet, args []string, stdout, stderr io.Writer) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printCommandUsage(cmd, stdout)
			return ExitOK, false
		}
		fmt.Fprintf(stderr, "invalid arguments: %v\n", err)
		printCommandUsage(cmd, stderr)
		return ExitUsage, false
	}
	return ExitOK, true
}

// rejectArgs fails when positional arguments were given.
func rejectArgs(cmd *Command, fs *flag.FlagSet, stderr io.Writer) bool {
	if fs.NArg() == 0 {
		return false
	}
	fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
	printCommandUsage(cmd, stderr)
	return true
}

// resolveConfigPath applies the flag, environment and default in order.
func resolveConfigPath(flagValue string) string {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv("TALLY_CONFIG")); path != "" {
		return path
	}
	return defaultConfigPath
}
