package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"tally/internal/limits"
)

// runLimits builds the handler for the limits command. It reads every
// configured category once without seeding or watching.
func runLimits(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
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

		return withRuntime(*configPath, stderr, func(ctx context.Context, rt *runtime) int {
			rows := make([][]string, 0, len(rt.defaults))
			code := ExitOK
			for _, d := range rt.defaults {
				stored, found, err := limits.ReadLimit(ctx, rt.client, rt.cfg.Limits.Root, d.Category)
				current := "unbounded"
				switch {
				case err != nil:
					fmt.Fprintf(stderr, "read %s: %v\n", d.Category, err)
					current = "error"
					code = ExitError
				case found:
					current = strconv.FormatInt(stored, 10)
				}
				rows = append(rows, []string{d.Category, current, strconv.FormatInt(d.Limit, 10)})
			}
			renderTable(stdout, []string{"CATEGORY", "LIMIT", "DEFAULT"}, rows)
			return code
		})
	}
}

// runSetLimit builds the handler for the set-limit command.
func runSetLimit(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		fs, configPath := newFlagSet(cmd, stderr)
		if code, ok := parseFlags(cmd, fs, args, stdout, stderr); !ok {
			return code
		}
		if fs.NArg() != 2 {
			fmt.Fprintln(stderr, "expected <category> <limit>")
			printCommandUsage(cmd, stderr)
			return ExitUsage
		}
		category := strings.TrimSpace(fs.Arg(0))
		limit, err := strconv.ParseInt(strings.TrimSpace(fs.Arg(1)), 10, 64)
		if err != nil || limit < 0 {
			fmt.Fprintf(stderr, "invalid limit %q\n", fs.Arg(1))
			return ExitUsage
		}

		return withRuntime(*configPath, stderr, func(ctx context.Context, rt *runtime) int {
			if !rt.limits.SetLimit(ctx, category, limit) {
				fmt.Fprintf(stderr, "set limit for %s failed\n", category)
				return ExitError
			}
			fmt.Fprintf(stdout, "limit %s = %d\n", category, limit)
			return ExitOK
		})
	}
}
