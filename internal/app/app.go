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
	case "serve":
		return runServe(args[1:])
	case "capture":
		return runCapture(args[1:])
	case "compare":
		return runCompare(args[1:])
	case "resolve":
		return runResolve(args[1:])
	case "get":
		return runGet(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "reconcile":
		return runReconcile(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "pageid CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  pageid <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health     Verify database connectivity and migrate the schema")
	fmt.Fprintln(os.Stderr, "  serve      Start the page identity API server")
	fmt.Fprintln(os.Stderr, "  capture    Fingerprint a page from a URL or HTML file")
	fmt.Fprintln(os.Stderr, "  compare    Compare two fingerprint payload files")
	fmt.Fprintln(os.Stderr, "  resolve    Resolve a fingerprint against stored page identities")
	fmt.Fprintln(os.Stderr, "  get        Print one stored page identity")
	fmt.Fprintln(os.Stderr, "  validate   Validate fingerprint payload JSON files")
	fmt.Fprintln(os.Stderr, "  reconcile  Merge duplicate records created by concurrent first sightings")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"pageid <command> -h\" for command-specific flags.")
}
