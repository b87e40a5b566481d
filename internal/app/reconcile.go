package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/pageid/internal/cli"
	"horse.fit/pageid/internal/resolve"
)

func runReconcile(args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", resolve.DefaultReconcileGroupLimit, "Maximum duplicated normalized URLs to examine")
	concurrency := fs.Int("concurrency", resolve.DefaultReconcileConcurrency, "Normalized URLs reconciled in parallel")
	dryRun := fs.Bool("dry-run", false, "Report duplicate clusters without merging")
	timeout := fs.Duration("timeout", 5*time.Minute, "Overall reconcile timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "--limit and --concurrency must be > 0")
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, *timeout)
	defer timeoutCancel()

	conn, err := connect(ctx, envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer conn.Close()

	reconciler := resolve.NewReconciler(resolve.NewPostgresStore(conn.pool), conn.logger, resolve.ReconcileOptions{
		Compare:          conn.cfg.CompareOptions(),
		GroupLimit:       *limit,
		Concurrency:      *concurrency,
		DryRun:           *dryRun,
		LayoutTokenLimit: conn.cfg.CaptureNodeSampleLimit,
	})
	result, err := reconciler.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reconcile failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "reconcile groups=%d clusters=%d merged=%d dry_run=%t\n",
		result.Groups, result.Clusters, result.Merged, result.DryRun)
	return 0
}
