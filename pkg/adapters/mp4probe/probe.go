// Package mp4probe reads video stream properties from MP4 files.
package mp4probe

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/keyframes/pkg/ports"
)

// ErrNoVideoTrack is returned when a file carries no video track.
var ErrNoVideoTrack = errors.New("mp4probe: no video track found")

// Prober implements ports.Prober for progressive and fragmented MP4.
type Prober struct{}

// New creates a new Prober.
func New() *Prober {
	return &Prober{}
}

// Probe opens path and reads its first video track.
func (p *Prober) Probe(path string) (ports.StreamInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return ports.StreamInfo{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return ProbeReader(f)
}

// ProbeReader reads stream properties from an MP4 stream.
func ProbeReader(r io.ReadSeeker) (ports.StreamInfo, error) {
	file, err := mp4.DecodeFile(r)
	if err != nil {
		return ports.StreamInfo{}, fmt.Errorf("decode mp4: %w", err)
	}

	moov := file.Moov
	if file.IsFragmented() && file.Init != nil && file.Init.Moov != nil {
		moov = file.Init.Moov
	}
	if moov == nil {
		return ports.StreamInfo{}, ErrNoVideoTrack
	}

	for _, trak := range moov.Traks {
		info, ok := videoInfo(trak)
		if !ok {
			continue
		}
		if file.IsFragmented() {
			countFragments(file, moov, trak.Tkhd.TrackID, &info)
		}
		return info, nil
	}
	return ports.StreamInfo{}, ErrNoVideoTrack
}

func videoInfo(trak *mp4.TrakBox) (ports.StreamInfo, bool) {
	if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
		return ports.StreamInfo{}, false
	}

	info := ports.StreamInfo{Codec: "unknown"}
	if trak.Tkhd != nil {
		info.Width = int(trak.Tkhd.Width >> 16)
		info.Height = int(trak.Tkhd.Height >> 16)
	}
	if mdhd := trak.Mdia.Mdhd; mdhd != nil {
		info.Timescale = mdhd.Timescale
		info.Duration = int64(mdhd.Duration)
	}

	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
		return info, true
	}
	stbl := trak.Mdia.Minf.Stbl
	if stbl.Stsz != nil {
		info.FrameCount = int(stbl.Stsz.SampleNumber)
	}
	if stbl.Stsd != nil {
		for _, child := range stbl.Stsd.Children {
			vse, ok := child.(*mp4.VisualSampleEntryBox)
			if !ok {
				continue
			}
			info.Codec = codecName(child.Type())
			// the sample entry is authoritative when tkhd was left empty
			if info.Width == 0 || info.Height == 0 {
				info.Width, info.Height = int(vse.Width), int(vse.Height)
			}
			break
		}
	}
	return info, true
}

func codecName(boxType string) string {
	switch boxType {
	case "avc1", "avc3":
		return "h264"
	case "hvc1", "hev1":
		return "hevc"
	case "av01":
		return "av1"
	case "vp09":
		return "vp9"
	}
	return boxType
}

// countFragments adds the samples carried in moof boxes for trackID.
func countFragments(file *mp4.File, moov *mp4.MoovBox, trackID uint32, info *ports.StreamInfo) {
	var trex *mp4.TrexBox
	if moov.Mvex != nil {
		for _, t := range moov.Mvex.Trexs {
			if t.TrackID == trackID {
				trex = t
				break
			}
		}
	}

	var duration int64
	for _, seg := range file.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}
			samples, err := frag.GetFullSamples(trex)
			if err != nil {
				continue
			}
			for _, s := range samples {
				info.FrameCount++
				duration += int64(s.Dur)
			}
		}
	}
	if info.Duration == 0 {
		info.Duration = duration
	}
}

var _ ports.Prober = (*Prober)(nil)
