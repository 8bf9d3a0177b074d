package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/asfdemux/internal/config"
	"github.com/zsiec/asfdemux/internal/session"
	"github.com/zsiec/asfdemux/internal/source"
)

// framewireExt is appended to dumped file names.
const framewireExt = ".asfw"

func dumpCmd(ctx context.Context, cfg *config.Config, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	seek := fs.Uint64("seek", 0, "start at this presentation time (100-ns units)")
	out := fs.String("out", cfg.OutputDir, "output directory")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 || *out == "" {
		return errUsage
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, path := range fs.Args() {
		g.Go(func() error {
			st, err := dumpFile(ctx, cfg, path, outputPath(*out, path), *seek)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			var frames int64
			for _, s := range st.Streams {
				frames += s.Frames
			}
			slog.Info("dumped", "file", path, "streams", len(st.Streams), "frames", frames)
			return nil
		})
	}
	return g.Wait()
}

func outputPath(dir, in string) string {
	base := filepath.Base(in)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+framewireExt)
}

// dumpFile demultiplexes the file at in into a framewire file at out.
func dumpFile(ctx context.Context, cfg *config.Config, in, out string, seek uint64) (session.Stats, error) {
	src, err := source.OpenFile(in)
	if err != nil {
		return session.Stats{}, err
	}
	defer src.Close()

	f, err := os.Create(out)
	if err != nil {
		return session.Stats{}, err
	}

	s := session.New(session.Config{
		Key:     in,
		Source:  src,
		Sink:    f,
		SeekTo:  seek,
		Options: cfg.DemuxOptions(),
	})
	runErr := s.Run(ctx)
	if err := f.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return s.Stats(), runErr
}
