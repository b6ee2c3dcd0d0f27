package mp4probe

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
)

// buildFragmented writes ftyp, moov and one fragment holding n samples of
// dur ticks each.
func buildFragmented(t *testing.T, boxType string, w, h int, timescale uint32, n int, dur uint32) []byte {
	t.Helper()
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(timescale, "video", "en")
	trak := init.Moov.Trak
	trak.Mdia.Minf.Stbl.Stsd.AddChild(mp4.CreateVisualSampleEntryBox(boxType, uint16(w), uint16(h), nil))
	trak.Tkhd.Width = mp4.Fixed32(w << 16)
	trak.Tkhd.Height = mp4.Fixed32(h << 16)

	frag, err := mp4.CreateFragment(1, 1)
	if err != nil {
		t.Fatalf("CreateFragment failed: %v", err)
	}
	for i := 0; i < n; i++ {
		data := []byte{0, 0, 0, 1, byte(i)}
		frag.AddFullSample(mp4.FullSample{
			Sample:     mp4.Sample{Flags: mp4.SyncSampleFlags, Size: uint32(len(data)), Dur: dur},
			DecodeTime: uint64(i) * uint64(dur),
			Data:       data,
		})
	}

	var buf bytes.Buffer
	if err := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso2", "mp41"}).Encode(&buf); err != nil {
		t.Fatalf("encode ftyp: %v", err)
	}
	if err := init.Moov.Encode(&buf); err != nil {
		t.Fatalf("encode moov: %v", err)
	}
	if n > 0 {
		if err := frag.Encode(&buf); err != nil {
			t.Fatalf("encode fragment: %v", err)
		}
	}
	return buf.Bytes()
}

func TestProbeReader_Fragmented(t *testing.T) {
	tests := []struct {
		name      string
		boxType   string
		wantCodec string
	}{
		{"h264", "avc1", "h264"},
		{"av1", "av01", "av1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildFragmented(t, tt.boxType, 320, 240, 25000, 12, 1000)
			info, err := ProbeReader(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("ProbeReader failed: %v", err)
			}
			if info.Width != 320 || info.Height != 240 {
				t.Errorf("expected 320x240, got %dx%d", info.Width, info.Height)
			}
			if info.Timescale != 25000 {
				t.Errorf("expected timescale 25000, got %d", info.Timescale)
			}
			if info.FrameCount != 12 {
				t.Errorf("expected 12 frames, got %d", info.FrameCount)
			}
			if info.Duration != 12000 {
				t.Errorf("expected duration 12000, got %d", info.Duration)
			}
			if info.Codec != tt.wantCodec {
				t.Errorf("expected codec %s, got %s", tt.wantCodec, info.Codec)
			}
		})
	}
}

func TestProbeReader_NoSamples(t *testing.T) {
	data := buildFragmented(t, "avc1", 64, 48, 1000, 0, 0)
	info, err := ProbeReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ProbeReader failed: %v", err)
	}
	if info.FrameCount != 0 || info.Width != 64 {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestProbeReader_AudioOnly(t *testing.T) {
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(48000, "audio", "en")
	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		t.Fatalf("encode init: %v", err)
	}
	if _, err := ProbeReader(bytes.NewReader(buf.Bytes())); !errors.Is(err, ErrNoVideoTrack) {
		t.Errorf("expected ErrNoVideoTrack, got %v", err)
	}
}

func TestProbe_MissingFile(t *testing.T) {
	if _, err := New().Probe(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("expected error for missing file")
	}
}
