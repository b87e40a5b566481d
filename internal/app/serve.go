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
	"horse.fit/pageid/internal/httpapi"
	"horse.fit/pageid/internal/metrics"
	"horse.fit/pageid/internal/resolve"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8095, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	bodyLimit := fs.String("body-limit", "256K", "Maximum request body size")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	conn, err := connect(context.Background(), envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	m := metrics.New()
	service := resolve.NewService(resolve.NewPostgresStore(conn.pool), conn.logger, resolve.Options{
		Compare:          conn.cfg.CompareOptions(),
		LayoutTokenLimit: conn.cfg.CaptureNodeSampleLimit,
		Metrics:          m,
	})

	srv := httpapi.NewServer(service, conn.pool, m, conn.logger, httpapi.Options{
		Host:               *host,
		Port:               *port,
		ReadTimeout:        *readTimeout,
		WriteTimeout:       *writeTimeout,
		ShutdownTimeout:    *shutdownTimeout,
		BodyLimit:          *bodyLimit,
		CORSAllowedOrigins: conn.cfg.CORSAllowedOriginsList(),
		Compare:            conn.cfg.CompareOptions(),
	})

	if err := srv.Start(ctx); err != nil {
		conn.logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}
