// Command asfdemux inspects and demultiplexes ASF files, and serves a
// network ingest that demultiplexes ASF streams pushed over SRT or QUIC.
//
// Usage:
//
//	asfdemux probe [-pb] FILE...
//	asfdemux dump [-seek PTS] [-out DIR] FILE...
//	asfdemux serve
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zsiec/asfdemux/internal/config"
)

var version = "dev"

var errUsage = errors.New("usage")

const usage = `Usage:
  asfdemux probe [-pb] FILE...              print container facts
  asfdemux dump [-seek PTS] [-out DIR] FILE...  write frames as framewire files
  asfdemux serve                            run SRT/QUIC ingest and the status API
  asfdemux version

Environment: ASF_SRT_ADDR, ASF_QUIC_ADDR, ASF_API_ADDR, ASF_OUTPUT_DIR,
ASF_MAX_HEADER_SIZE, ASF_MAX_FRAME_SIZE, ASF_INDEX_CAP, ASF_QUEUE_CAP, DEBUG.
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	default:
		slog.Error("asfdemux failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "probe":
		return probeCmd(cfg, rest, stdout, stderr)
	case "dump":
		return dumpCmd(ctx, cfg, rest, stderr)
	case "serve":
		return serve(ctx, cfg)
	case "version":
		fmt.Fprintln(stdout, "asfdemux", version)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}
