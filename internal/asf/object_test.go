package asf

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zsiec/asfdemux/internal/media"
	"github.com/zsiec/asfdemux/internal/source"
)

func TestGUIDWireLayout(t *testing.T) {
	t.Parallel()

	want := []byte{0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11, 0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C}
	if !bytes.Equal(GUIDHeader[:], want) {
		t.Fatalf("header GUID bytes = % x", GUIDHeader[:])
	}
	if got := GUIDHeader.String(); got != "75B22630-668E-11CF-A6D9-00AA0062CE6C" {
		t.Errorf("String() = %s", got)
	}
	if KindOf(GUIDMarker) != KindMarker || KindOf(testFileID) != KindOpaque {
		t.Error("kind lookup mismatch")
	}
}

func minimalFile(extra ...[]byte) []byte {
	fsp := fileSpec{packetSize: 4096, packets: 10, durationMs: 1000}
	return buildFile(fsp, [][]byte{audioStream(1)}, nil, extra...)
}

func TestOpenHeaderMinimal(t *testing.T) {
	t.Parallel()

	p := NewParser(source.NewMemorySource(minimalFile()))
	f, err := p.OpenHeader()
	if err != nil {
		t.Fatal(err)
	}
	if p.StreamCount() != 1 {
		t.Fatalf("StreamCount = %d, want 1", p.StreamCount())
	}
	if f.Header.ObjectCount != 2 || len(f.Header.Children) != 2 {
		t.Errorf("object count %d, children %d", f.Header.ObjectCount, len(f.Header.Children))
	}
	if f.PacketSize != 4096 || f.PacketCount != 10 {
		t.Errorf("packet size %d count %d", f.PacketSize, f.PacketCount)
	}
	s := p.GetStream(1)
	if s == nil || s.MediaKind() != media.KindAudio {
		t.Fatalf("GetStream(1) = %+v", s)
	}
	if s.Audio == nil || s.Audio.SampleRate != 44100 || s.Audio.Channels != 2 {
		t.Errorf("audio format = %+v", s.Audio)
	}
	if f.Duration != 1000*10000 {
		t.Errorf("duration = %d", f.Duration)
	}
}

func TestOpenHeaderStreamsMatchTree(t *testing.T) {
	t.Parallel()

	data := buildFile(fileSpec{packetSize: 512},
		[][]byte{videoStream(3), audioStream(7), audioStream(120)}, nil,
		contentDescriptionObject("title", "author"))
	p := NewParser(source.NewMemorySource(data))
	f, err := p.OpenHeader()
	if err != nil {
		t.Fatal(err)
	}
	if int(f.Header.ObjectCount) != len(f.Header.Children) {
		t.Fatalf("declared %d objects, parsed %d", f.Header.ObjectCount, len(f.Header.Children))
	}
	seen := 0
	for _, c := range f.Header.Children {
		sp, ok := c.(*StreamProperties)
		if !ok {
			continue
		}
		seen++
		if p.GetStream(int(sp.ID)) != sp {
			t.Errorf("GetStream(%d) does not return the parsed object", sp.ID)
		}
	}
	if seen != p.StreamCount() {
		t.Errorf("walked %d streams, StreamCount %d", seen, p.StreamCount())
	}
	if v := p.GetStream(3).Video; v == nil || v.FourCC() != "WMV3" || v.Width != 320 {
		t.Errorf("video format = %+v", v)
	}
	if f.Content == nil || f.Content.Title != "title" || f.Content.Author != "author" {
		t.Errorf("content description = %+v", f.Content)
	}
}

func TestGetStreamBounds(t *testing.T) {
	t.Parallel()

	p := NewParser(source.NewMemorySource(minimalFile()))
	if _, err := p.OpenHeader(); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int{-1, 0, 2, 127, 128, 255, 1000} {
		if p.GetStream(id) != nil {
			t.Errorf("GetStream(%d) != nil", id)
		}
	}
	for id := -10; id < 300; id++ {
		if p.GetStream(id) != nil && (id < 1 || id > 127) {
			t.Fatalf("stream %d outside [1,127]", id)
		}
	}
}

func TestOpenHeaderIdempotent(t *testing.T) {
	t.Parallel()

	src := source.NewMemorySource(minimalFile())
	p := NewParser(src)
	f1, err := p.OpenHeader()
	if err != nil {
		t.Fatal(err)
	}
	pos := src.Position()
	f2, err := p.OpenHeader()
	if err != nil {
		t.Fatal(err)
	}
	if f1 != f2 || src.Position() != pos {
		t.Error("second OpenHeader was not a no-op")
	}
}

func TestOpenHeaderPacketSizeMismatch(t *testing.T) {
	t.Parallel()

	fsp := fileSpec{packetSize: 4096, maxPacketSize: 8192}
	p := NewParser(source.NewMemorySource(buildFile(fsp, [][]byte{audioStream(1)}, nil)))
	_, err := p.OpenHeader()
	if ErrorKindOf(err) != StructuralCorruption {
		t.Fatalf("got %v, want structural corruption", err)
	}
	if p.LastError() != err {
		t.Error("LastError not recorded")
	}
}

func TestOpenHeaderNotEnoughDataDoesNotConsume(t *testing.T) {
	t.Parallel()

	data := avFile(2)
	q := source.NewQueueSource()
	p := NewParser(q)

	hdrLen := len(headerObject())
	for _, n := range []int{10, hdrLen, len(data) - 2*avPacketSize - 1} {
		q2 := source.NewQueueSource()
		q2.Write(data[:n])
		p2 := NewParser(q2)
		if _, err := p2.OpenHeader(); !errors.Is(err, ErrNotEnoughData) {
			t.Fatalf("%d bytes: got %v, want ErrNotEnoughData", n, err)
		}
		if q2.Position() != 0 || p2.LastError() != nil {
			t.Fatalf("%d bytes: position %d, last error %v", n, q2.Position(), p2.LastError())
		}
	}

	q.Write(data[:40])
	if _, err := p.OpenHeader(); !errors.Is(err, ErrNotEnoughData) {
		t.Fatalf("got %v, want ErrNotEnoughData", err)
	}
	q.Write(data[40:])
	f, err := p.OpenHeader()
	if err != nil {
		t.Fatal(err)
	}
	if q.Position() != f.DataOffset {
		t.Errorf("position %d, data offset %d", q.Position(), f.DataOffset)
	}
}

func TestOpenHeaderRejects(t *testing.T) {
	t.Parallel()

	overrun := audioStream(1)
	overrun[16] += 100 // declared size past the header

	zeroID := streamPropertiesObject(0, GUIDAudioMedia, waveFormat(), 0)

	badData := minimalFile()
	hdr := len(headerObject(filePropertiesObject(fileSpec{packetSize: 4096, packets: 10, durationMs: 1000}), audioStream(1)))
	badData[hdr+24] ^= 0xff // data object file id

	tests := []struct {
		name string
		data []byte
		kind ErrorKind
	}{
		{"not asf", bytes.Repeat([]byte{0x42}, 100), StructuralCorruption},
		{"object overruns header", buildFile(fileSpec{packetSize: 512}, [][]byte{overrun}, nil), StructuralCorruption},
		{"stream id zero", buildFile(fileSpec{packetSize: 512}, [][]byte{zeroID}, nil), StructuralCorruption},
		{"duplicate stream", buildFile(fileSpec{packetSize: 512}, [][]byte{audioStream(1), audioStream(1)}, nil), StructuralCorruption},
		{"no streams", buildFile(fileSpec{packetSize: 512}, nil, nil), StructuralCorruption},
		{"file id mismatch", badData, StructuralCorruption},
		{"truncated", minimalFile()[:60], StructuralCorruption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewParser(source.NewMemorySource(tt.data))
			_, err := p.OpenHeader()
			if got := ErrorKindOf(err); got != tt.kind {
				t.Fatalf("got %v (%v), want %v", got, err, tt.kind)
			}
			if !IsFatal(err) {
				t.Error("expected a fatal error")
			}
		})
	}
}

func TestOpenHeaderCeiling(t *testing.T) {
	t.Parallel()

	p := NewParser(source.NewMemorySource(minimalFile()), WithMaxHeaderSize(64))
	if _, err := p.OpenHeader(); ErrorKindOf(err) != OutOfMemory {
		t.Fatalf("got %v, want out of memory", err)
	}
}

func TestLastErrorKeepsFirst(t *testing.T) {
	t.Parallel()

	p := NewParser(source.NewMemorySource(bytes.Repeat([]byte{1}, 64)))
	_, first := p.OpenHeader()
	if first == nil {
		t.Fatal("expected error")
	}
	p.fail(corruptf("test", "second failure"))
	if p.LastError() != first {
		t.Fatalf("LastError = %v, want %v", p.LastError(), first)
	}
	if _, err := p.OpenHeader(); err != first {
		t.Errorf("OpenHeader after failure = %v", err)
	}
}

func TestHeaderExtensionExtendedStream(t *testing.T) {
	t.Parallel()

	ext := headerExtensionObject(
		extendedStreamPropertiesObject(2, "commentary", audioStream(2)),
		testObject(GUIDLanguageList, []byte{0, 0}),
		testObject(GUIDPadding, make([]byte, 8)),
	)
	data := buildFile(fileSpec{packetSize: 512}, [][]byte{videoStream(1)}, nil, ext)
	p := NewParser(source.NewMemorySource(data))
	f, err := p.OpenHeader()
	if err != nil {
		t.Fatal(err)
	}
	if p.StreamCount() != 2 {
		t.Fatalf("StreamCount = %d, want 2 (one from the extension)", p.StreamCount())
	}
	e := p.GetExtendedStream(2)
	if e == nil || e.Stream == nil || e.Stream != p.GetStream(2) {
		t.Fatalf("extended stream = %+v", e)
	}
	if len(e.Names) != 1 || e.Names[0].Name != "commentary" || e.AvgTimePerFrame != 333333 {
		t.Errorf("extended fields = %+v", e)
	}
	if len(f.Extended) != 1 {
		t.Errorf("facts list %d extended streams", len(f.Extended))
	}

	he, ok := f.Header.Children[2].(*HeaderExtension)
	if !ok || len(he.Children) != 3 {
		t.Fatalf("header extension = %+v", f.Header.Children[2])
	}
	if he.Children[1].Kind() != KindLanguageList {
		t.Errorf("language list kind = %v", he.Children[1].Kind())
	}
}

func TestExtendedStreamNestedIDMismatch(t *testing.T) {
	t.Parallel()

	ext := headerExtensionObject(extendedStreamPropertiesObject(2, "", audioStream(3)))
	data := buildFile(fileSpec{packetSize: 512}, [][]byte{videoStream(1)}, nil, ext)
	_, err := NewParser(source.NewMemorySource(data)).OpenHeader()
	if ErrorKindOf(err) != StructuralCorruption {
		t.Fatalf("got %v, want structural corruption", err)
	}
}

func TestOpaqueAndProtected(t *testing.T) {
	t.Parallel()

	unknown := guidFromString("DEADBEEF-0000-1111-2222-333344445555")
	enc := &wbuf{}
	enc.u32(2).raw([]byte{9, 9}).u32(5).raw([]byte("DRM\x00\x00")).u32(0).u32(0)
	data := minimalFile(
		testObject(unknown, []byte("opaque body")),
		testObject(GUIDContentEncryption, enc.b),
	)
	p := NewParser(source.NewMemorySource(data))
	f, err := p.OpenHeader()
	if err != nil {
		t.Fatal(err)
	}
	op, ok := f.Header.Children[2].(*OpaqueObject)
	if !ok || string(op.Data) != "opaque body" || op.Header().GUID != unknown {
		t.Fatalf("opaque child = %+v", f.Header.Children[2])
	}
	if !p.Protected() {
		t.Error("content encryption not detected")
	}
	ce := f.Header.Children[3].(*ContentEncryption)
	if ce.ProtectionType != "DRM" {
		t.Errorf("protection type %q", ce.ProtectionType)
	}
}

func TestByteReaderBounds(t *testing.T) {
	t.Parallel()

	r := newByteReader([]byte{1, 2, 3}, "test")
	if b := r.bytes(4); b != nil {
		t.Fatal("read past end returned data")
	}
	if ErrorKindOf(r.err) != StructuralCorruption {
		t.Fatalf("err = %v", r.err)
	}
	if r.u8() != 0 || r.pos != 0 {
		t.Error("reader not sticky after failure")
	}
	if got := boundedCap(1<<30, 100, 4); got != 25 {
		t.Errorf("boundedCap = %d", got)
	}
}

func FuzzOpenHeader(f *testing.F) {
	f.Add(minimalFile())
	f.Add(avFile(1))
	f.Add(buildFile(fileSpec{packetSize: 512}, [][]byte{videoStream(1)}, nil,
		headerExtensionObject(extendedStreamPropertiesObject(2, "x", audioStream(2)))))
	f.Fuzz(func(t *testing.T, data []byte) {
		p := NewParser(source.NewMemorySource(data), WithMaxHeaderSize(1<<16))
		facts, err := p.OpenHeader()
		if err != nil {
			return
		}
		for _, s := range facts.Streams {
			if s.ID < 1 || s.ID > 127 || p.GetStream(int(s.ID)) != s {
				t.Fatalf("bad stream table entry %d", s.ID)
			}
		}
		if facts.File.MinPacketSize != facts.File.MaxPacketSize {
			t.Fatal("accepted mismatched packet sizes")
		}
	})
}
