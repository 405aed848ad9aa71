package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"tally/internal/counter"
)

// dimensionFlags parses the mutually exclusive --product and --tv flags.
func dimensionFlags(product, tv string) ([]counter.Dimension, error) {
	switch {
	case product != "" && tv != "":
		return nil, fmt.Errorf("--product and --tv are mutually exclusive")
	case product != "":
		return []counter.Dimension{counter.Product(product)}, nil
	case tv != "":
		return []counter.Dimension{counter.TV(tv)}, nil
	default:
		return nil, nil
	}
}

// runIncr builds the handler for the incr command.
func runIncr(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		fs, configPath := newFlagSet(cmd, stderr)
		kindFlag := fs.String("kind", "", "Counter kind: "+kindList())
		category := fs.String("category", "", "Category id")
		delta := fs.Int64("delta", 1, "Amount to add; negative values subtract")
		product := fs.String("product", "", "Also count against this product id (response_success only)")
		tv := fs.String("tv", "", "Also count against this tv id (response_success only)")
		if code, ok := parseFlags(cmd, fs, args, stdout, stderr); !ok {
			return code
		}
		if rejectArgs(cmd, fs, stderr) {
			return ExitUsage
		}
		kind, err := counter.ParseKind(*kindFlag)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return ExitUsage
		}
		dims, err := dimensionFlags(*product, *tv)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return ExitUsage
		}
		if len(dims) > 0 && kind != counter.ResponseSuccess {
			fmt.Fprintln(stderr, "--product and --tv only apply to response_success")
			return ExitUsage
		}

		return withRuntime(*configPath, stderr, func(ctx context.Context, rt *runtime) int {
			if err := rt.counter.Add(ctx, kind, *delta, *category, dims...); err != nil {
				fmt.Fprintf(stderr, "increment failed: %v\n", err)
				return ExitError
			}
			day := rt.counter.Policy().Today()
			value := rt.counter.Count(ctx, kind, day, *category)
			fmt.Fprintf(stdout, "%s %s %s = %d\n", kind, day, *category, value)
			return ExitOK
		})
	}
}

// runCount builds the handler for the count command.
func runCount(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		fs, configPath := newFlagSet(cmd, stderr)
		kindFlag := fs.String("kind", "", "Counter kind (default: every kind): "+kindList())
		category := fs.String("category", "", "Category id")
		day := fs.String("day", "", "Day as YYYYMMDD (default: today)")
		product := fs.String("product", "", "Read the product sub-counter of response_success")
		tv := fs.String("tv", "", "Read the tv sub-counter of response_success")
		if code, ok := parseFlags(cmd, fs, args, stdout, stderr); !ok {
			return code
		}
		if rejectArgs(cmd, fs, stderr) {
			return ExitUsage
		}
		if *category == "" {
			fmt.Fprintln(stderr, "Missing --category")
			printCommandUsage(cmd, stderr)
			return ExitUsage
		}
		kinds := counter.Kinds()
		if *kindFlag != "" {
			kind, err := counter.ParseKind(*kindFlag)
			if err != nil {
				fmt.Fprintf(stderr, "%v\n", err)
				return ExitUsage
			}
			kinds = []counter.Kind{kind}
		}
		if *day != "" && !counter.ValidDay(*day) {
			fmt.Fprintf(stderr, "invalid --day %q: expected YYYYMMDD\n", *day)
			return ExitUsage
		}
		dims, err := dimensionFlags(*product, *tv)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return ExitUsage
		}
		if len(dims) > 0 {
			kinds = []counter.Kind{counter.ResponseSuccess}
		}

		return withRuntime(*configPath, stderr, func(ctx context.Context, rt *runtime) int {
			stamp := *day
			if stamp == "" {
				stamp = rt.counter.Policy().Today()
			}
			rows := make([][]string, 0, len(kinds))
			for _, kind := range kinds {
				value := rt.counter.Count(ctx, kind, stamp, *category, dims...)
				rows = append(rows, []string{string(kind), stamp, *category, strconv.FormatInt(value, 10)})
			}
			renderTable(stdout, []string{"KIND", "DAY", "CATEGORY", "VALUE"}, rows)
			return ExitOK
		})
	}
}

func kindList() string {
	names := make([]string, 0, len(counter.Kinds()))
	for _, kind := range counter.Kinds() {
		names = append(names, string(kind))
	}
	return strings.Join(names, ", ")
}
