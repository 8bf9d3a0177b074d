// Command asf-push sends an ASF file, or a synthetic one, to an asfdemux
// ingest over SRT or QUIC, paced at the file's own bitrate.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/asfdemux/internal/asf"
	"github.com/zsiec/asfdemux/internal/asftest"
	"github.com/zsiec/asfdemux/internal/certs"
	quicingest "github.com/zsiec/asfdemux/internal/ingest/quic"
	"github.com/zsiec/asfdemux/internal/source"
)

// srtChunkSize matches the receiver's SRT payload size.
const srtChunkSize = 1316

func main() {
	fileFlag := flag.String("file", "", "ASF file to push")
	synthFlag := flag.Uint("synthetic", 0, "push a generated audio/video file of this many milliseconds instead of -file")
	keyFlag := flag.String("key", "", "stream key (default: live/<file name>)")
	srtFlag := flag.String("srt", "127.0.0.1:6000", "SRT ingest address")
	quicFlag := flag.String("quic", "", "QUIC ingest address; overrides -srt")
	fpFlag := flag.String("fingerprint", "", "hex SHA-256 fingerprint of the QUIC server certificate")
	durationFlag := flag.Float64("duration", 0, "pace as if the file lasted this many seconds (0: read the header)")
	flag.Parse()

	data, name, err := load(*fileFlag, *synthFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	key := *keyFlag
	if key == "" {
		key = "live/" + name
	}

	duration := selectDuration(*durationFlag, headerDuration(data))
	bytesPerSec := float64(len(data)) / duration
	fmt.Printf("%s: %d bytes, %.1fs, %.0f bytes/sec\n", key, len(data), duration, bytesPerSec)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src := newPacedReader(bytes.NewReader(data), bytesPerSec)
	if *quicFlag != "" {
		err = pushQUIC(ctx, *quicFlag, *fpFlag, key, src)
	} else {
		err = pushSRT(*srtFlag, key, src)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] %v\n", key, err)
		os.Exit(1)
	}
	fmt.Printf("[%s] done\n", key)
}

func load(path string, syntheticMs uint) ([]byte, string, error) {
	if syntheticMs > 0 {
		f := asftest.AV(uint32(syntheticMs))
		f.Title = "asf-push synthetic"
		return asftest.Build(f), "synthetic", nil
	}
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	if path == "" {
		return nil, "", fmt.Errorf("usage: asf-push [-srt host:port | -quic host:port -fingerprint HEX] (-file FILE | -synthetic MS)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	base := filepath.Base(path)
	return data, strings.TrimSuffix(base, filepath.Ext(base)), nil
}

// headerDuration returns the play duration recorded in the file header in
// seconds, or 0 if the header cannot be read.
func headerDuration(data []byte) float64 {
	facts, err := asf.NewDemuxer(source.NewMemorySource(data)).Open()
	if err != nil {
		return 0
	}
	return time.Duration(facts.Duration * 100).Seconds()
}

func selectDuration(override, header float64) float64 {
	if override > 0 {
		return override
	}
	if header > 0 {
		return header
	}
	return 60.0
}

func pushSRT(addr, key string, src io.Reader) error {
	cfg := srt.DefaultConfig()
	cfg.StreamID = key

	fmt.Printf("[%s] connecting to SRT %s\n", key, addr)
	conn, err := srt.Dial(addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT connect: %w", err)
	}
	defer conn.Close()

	buf := make([]byte, srtChunkSize)
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func pushQUIC(ctx context.Context, addr, fingerprint, key string, src io.Reader) error {
	fp, err := certs.ParseFingerprint(fingerprint)
	if err != nil {
		return err
	}
	fmt.Printf("[%s] connecting to QUIC %s\n", key, addr)
	n, err := quicingest.Push(ctx, addr, certs.PinnedTLS(fp), key, src)
	if err != nil {
		return err
	}
	fmt.Printf("[%s] %d bytes acknowledged\n", key, n)
	return nil
}

// pacedReader releases bytes no faster than a fixed rate, measured against
// the time of the first read.
type pacedReader struct {
	r           io.Reader
	bytesPerSec float64
	start       time.Time
	sent        int64
	sleep       func(time.Duration)
	now         func() time.Time
}

func newPacedReader(r io.Reader, bytesPerSec float64) *pacedReader {
	return &pacedReader{r: r, bytesPerSec: bytesPerSec, sleep: time.Sleep, now: time.Now}
}

func (p *pacedReader) Read(b []byte) (int, error) {
	if p.start.IsZero() {
		p.start = p.now()
	}
	// Pace against the global clock so a slow read is caught up without
	// a burst.
	expected := time.Duration(float64(p.sent) / p.bytesPerSec * float64(time.Second))
	if elapsed := p.now().Sub(p.start); expected > elapsed {
		p.sleep(expected - elapsed)
	}
	n, err := p.r.Read(b)
	p.sent += int64(n)
	return n, err
}
