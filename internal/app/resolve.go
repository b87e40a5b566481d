package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/pageid/internal/cli"
	"horse.fit/pageid/internal/fingerprint"
	"horse.fit/pageid/internal/resolve"
)

func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	payloadPath := fs.String("payload", "", "Fingerprint payload JSON file (- for stdin); otherwise capture with --url/--file")
	flags := addCaptureFlags(fs)
	dbTimeout := fs.Duration("db-timeout", 10*time.Second, "Database connect timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	usePayload := strings.TrimSpace(*payloadPath) != ""
	if !usePayload {
		if err := flags.validate(); err != nil {
			fmt.Fprintf(os.Stderr, "--payload or %v\n", err)
			return 2
		}
	}

	ctx := context.Background()
	conn, err := connect(ctx, envLoader, *dbTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer conn.Close()

	var payload fingerprint.PageIdentity
	if usePayload {
		payload, err = loadPayloadFile(*payloadPath)
	} else {
		payload, err = flags.capture(ctx, conn.cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 1
	}

	service := resolve.NewService(resolve.NewPostgresStore(conn.pool), conn.logger, resolve.Options{
		Compare:          conn.cfg.CompareOptions(),
		LayoutTokenLimit: conn.cfg.CaptureNodeSampleLimit,
	})
	result, err := service.Resolve(ctx, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Resolve failed: %v\n", err)
		return 1
	}
	if err := printJSON(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}
	return 0
}

func runGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	pageID := fs.String("id", "", "Page identity id")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*pageID) == "" {
		fmt.Fprintln(os.Stderr, "--id is required")
		return 2
	}

	ctx := context.Background()
	conn, err := connect(ctx, envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer conn.Close()

	service := resolve.NewService(resolve.NewPostgresStore(conn.pool), conn.logger, resolve.Options{})
	record, err := service.Get(ctx, *pageID)
	if errors.Is(err, resolve.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Page identity %s not found\n", strings.TrimSpace(*pageID))
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Get failed: %v\n", err)
		return 1
	}
	if err := printJSON(record); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}
	return 0
}
