package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const versionString = "1.0.0"

const usageText = `usage: raafstore <command> [flags] [args]

commands:
  backfill   derive store rows from the file tree (--dry-run, --verify-only)
  watch      run incremental backfills as the file tree changes
  get        read one entity: get <kind> <key>
  search     search candidates: search [text]
  dashboard  per-requisition pipeline counts
  version    print version and exit
`

// errUsage marks command-line mistakes, which exit with status 2.
var errUsage = errors.New("usage error")

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

type cliOptions struct {
	command    string
	configPath string
	verbose    bool
	format     string
	out        string

	dryRun     bool
	verifyOnly bool
	client     string
	req        string

	status         string
	recommendation string
	minScore       float64
	limit          int
	narrative      bool

	args []string
}

func parseOptions(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	if len(args) == 0 {
		return opts, usageError("missing command")
	}
	opts.command = strings.TrimSpace(args[0])

	fs := flag.NewFlagSet("raafstore "+opts.command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file (default: discovered raafstore.toml)")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")
	fs.StringVar(&opts.format, "format", "text", "Output format: text or json")

	switch opts.command {
	case "backfill":
		fs.BoolVar(&opts.dryRun, "dry-run", false, "Report planned writes without writing")
		fs.BoolVar(&opts.verifyOnly, "verify-only", false, "Compare files and store without writing")
		fs.StringVar(&opts.client, "client", "", "Limit the pass to one client code")
		fs.StringVar(&opts.req, "req", "", "Limit the pass to one requisition id")
		fs.StringVar(&opts.out, "out", "", "Also write the report to this file")
	case "watch":
	case "get":
	case "search":
		fs.StringVar(&opts.client, "client", "", "Filter by client code")
		fs.StringVar(&opts.req, "req", "", "Filter by requisition id")
		fs.StringVar(&opts.status, "status", "", "Filter by candidate status (pending, assessed)")
		fs.StringVar(&opts.recommendation, "recommendation", "", "Filter by recommendation")
		fs.Float64Var(&opts.minScore, "min-score", 0, "Minimum assessment percentage")
		fs.IntVar(&opts.limit, "limit", 0, "Maximum rows (default 50)")
		fs.BoolVar(&opts.narrative, "narrative", false, "Full-text search over assessment narratives")
	case "dashboard":
		fs.StringVar(&opts.client, "client", "", "Limit to one client code")
	case "version", "-version", "--version":
		opts.command = "version"
		return opts, nil
	case "help", "-h", "--help":
		opts.command = "help"
		return opts, nil
	default:
		return opts, usageError("unknown command %q", opts.command)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return cliOptions{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	opts.args = fs.Args()
	if err := validateOptions(opts); err != nil {
		return cliOptions{}, err
	}
	return opts, nil
}

func validateOptions(opts cliOptions) error {
	switch opts.command {
	case "backfill":
		if opts.dryRun && opts.verifyOnly {
			return usageError("--dry-run and --verify-only are mutually exclusive")
		}
		if len(opts.args) > 0 {
			return usageError("backfill takes no positional arguments")
		}
	case "watch", "dashboard":
		if len(opts.args) > 0 {
			return usageError("%s takes no positional arguments", opts.command)
		}
	case "get":
		if len(opts.args) != 2 {
			return usageError("get requires <kind> <key>")
		}
	case "search":
		if opts.narrative && strings.TrimSpace(strings.Join(opts.args, " ")) == "" {
			return usageError("--narrative requires search text")
		}
		if opts.minScore < 0 || opts.minScore > 100 {
			return usageError("--min-score must be between 0 and 100")
		}
	}
	return nil
}
