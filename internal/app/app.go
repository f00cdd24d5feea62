package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "reconcile", "ingest":
		return runReconcile(args[1:])
	case "search-query":
		return runSearchQuery(args[1:])
	case "quotes":
		return runQuotes(args[1:])
	case "review":
		return runReview(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "marketpulse CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  marketpulse <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health        Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  validate      Validate fetch batch JSON files")
	fmt.Fprintln(os.Stderr, "  reconcile     Merge fetch batches into the item store")
	fmt.Fprintln(os.Stderr, "  ingest        Alias for reconcile")
	fmt.Fprintln(os.Stderr, "  search-query  Print the upstream search expression for the catalog")
	fmt.Fprintln(os.Stderr, "  quotes        Refresh stale quotes for mentioned instruments")
	fmt.Fprintln(os.Stderr, "  review        Print recent scored items and ingest stats")
	fmt.Fprintln(os.Stderr, "  serve         Start the report API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"marketpulse <command> -h\" for command-specific flags.")
}
