package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/asfdemux/internal/api"
	"github.com/zsiec/asfdemux/internal/certs"
	"github.com/zsiec/asfdemux/internal/config"
	"github.com/zsiec/asfdemux/internal/ingest"
	quicingest "github.com/zsiec/asfdemux/internal/ingest/quic"
	srtingest "github.com/zsiec/asfdemux/internal/ingest/srt"
	"github.com/zsiec/asfdemux/internal/session"
)

var errDuplicateStream = errors.New("a session with this key is already running")

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(certs.DefaultValidity)
	if err != nil {
		return fmt.Errorf("generate cert: %w", err)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintHex(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return err
		}
	}

	slog.Info("asfdemux starting",
		"version", version,
		"srt", cfg.SRTAddr,
		"quic", cfg.QUICAddr,
		"api", cfg.APIAddr,
		"output", cfg.OutputDir,
	)

	g, ctx := errgroup.WithContext(ctx)

	// The registry callback captures the errgroup context so sessions stop
	// when any listener fails.
	a := &app{cfg: cfg, sessions: session.NewManager(nil)}
	a.registry = ingest.NewRegistry(func(s *ingest.Stream) { a.handleNewStream(ctx, s) })
	srtCaller := srtingest.NewCaller(a.registry, nil)

	srtSrv := srtingest.NewServer(cfg.SRTAddr, a.registry, nil)
	quicSrv := quicingest.NewServer(cfg.QUICAddr, cert.ServerTLS(), a.registry, nil)

	apiSrv := &http.Server{
		Addr: cfg.APIAddr,
		Handler: api.Handler(api.Config{
			Sessions:        a.sessions,
			Ingest:          a.registry,
			SRT:             srtCaller,
			PullContext:     ctx,
			QUICAddr:        cfg.QUICAddr,
			CertFingerprint: cert.FingerprintHex(),
		}),
		TLSConfig:         &tls.Config{Certificates: []tls.Certificate{cert.TLSCert}},
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	g.Go(func() error {
		return quicSrv.Start(ctx)
	})

	g.Go(func() error {
		slog.Info("HTTPS API server listening", "addr", cfg.APIAddr)
		if err := apiSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type app struct {
	cfg      *config.Config
	registry *ingest.Registry
	sessions *session.Manager
}

// handleNewStream demultiplexes one ingest stream until its queue ends.
func (a *app) handleNewStream(ctx context.Context, st *ingest.Stream) {
	log := slog.With("key", st.Key, "transport", st.Transport)
	log.Info("new stream from ingest")

	sink, closeSink, err := a.openSink(st.Key)
	if err != nil {
		log.Error("open output", "error", err)
		a.registry.Unregister(st.Key, err)
		return
	}
	defer closeSink()

	q := st.Queue()
	s := session.New(session.Config{
		Key:     st.Key,
		Source:  q,
		Queue:   q,
		Sink:    sink,
		Options: a.cfg.DemuxOptions(),
	})
	if !a.sessions.Add(s) {
		log.Warn("rejecting duplicate stream")
		a.registry.Unregister(st.Key, errDuplicateStream)
		return
	}
	defer a.sessions.Remove(st.Key)

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("session error", "error", err)
		// Stop the receiver; the session can no longer consume its bytes.
		a.registry.Unregister(st.Key, err)
	}
	log.Info("stream ended", "stats", s.Stats())
}

func (a *app) openSink(key string) (io.Writer, func(), error) {
	if a.cfg.OutputDir == "" {
		return io.Discard, func() {}, nil
	}
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key) + framewireExt
	f, err := os.Create(filepath.Join(a.cfg.OutputDir, name))
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
