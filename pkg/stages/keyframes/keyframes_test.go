package keyframes

import (
	"context"
	"errors"
	"image/color"
	"testing"

	"github.com/user/keyframes/pkg/annotation"
	"github.com/user/keyframes/pkg/blend"
	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/geometry"
	"github.com/user/keyframes/pkg/mocks"
	"github.com/user/keyframes/pkg/pipeline"
	"github.com/user/keyframes/pkg/ports"
	"github.com/user/keyframes/pkg/transform"
)

type fixture struct {
	alloc     *frame.HeapAllocator
	resampler *mocks.Resampler
	logger    *mocks.Logger
	sink      *mocks.DebugSink
}

func newFixture() *fixture {
	return &fixture{
		alloc:     frame.NewHeapAllocator(),
		resampler: &mocks.Resampler{},
		logger:    mocks.NewLogger(),
		sink:      mocks.NewDebugSink(false),
	}
}

func (fx *fixture) stage(t *testing.T, opts Options) *Stage {
	t.Helper()
	b, err := blend.ForFormats(frame.YUV420P, frame.YUVA420P, blend.Straight, 1)
	if err != nil {
		t.Fatalf("ForFormats failed: %v", err)
	}
	s, err := NewStage(opts, transform.New(fx.alloc, fx.resampler), b, fx.sink, fx.logger)
	if err != nil {
		t.Fatalf("NewStage failed: %v", err)
	}
	return s
}

// gradient returns a main frame whose pixels encode their position.
func (fx *fixture) gradient(t *testing.T, w, h int) *frame.Frame {
	t.Helper()
	f, err := fx.alloc.Alloc(frame.YUV420P, w, h)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	f.TimeBase = frame.Rational{Num: 1, Den: 25}
	return f
}

func (fx *fixture) overlay(t *testing.T, w, h int, a uint8) *frame.Frame {
	t.Helper()
	f, err := fx.alloc.Alloc(frame.YUVA420P, w, h)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	f.Fill(color.NRGBA{R: 255, G: 255, B: 255, A: a})
	return f
}

func store(t *testing.T, records ...annotation.Record) *annotation.Store {
	t.Helper()
	s, err := annotation.NewStore(records)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func full(w, h int) annotation.Record {
	return annotation.Record{CropW: w, CropH: h, Scale: 1, Found: true}
}

func TestExecute_CropsToRecord(t *testing.T) {
	fx := newFixture()
	opts := DefaultOptions()
	opts.OutW, opts.OutH = "100", "100"
	opts.Store = store(t,
		annotation.Record{CropX: 10, CropY: 10, CropW: 100, CropH: 100, Scale: 1},
		full(200, 200),
		full(200, 200),
	)
	s := fx.stage(t, opts)

	main := fx.gradient(t, 200, 200)
	want := main.Sample(10, 10)
	wantEnd := main.Sample(109, 109)
	main.PTS, main.Duration = 7, 1

	out, err := s.Execute(context.Background(), pipeline.Pair{Main: main})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Width != 100 || out.Height != 100 {
		t.Errorf("expected 100x100, got %dx%d", out.Width, out.Height)
	}
	if got := out.Sample(0, 0); got != want {
		t.Errorf("pixel (0,0) = %v, want source (10,10) %v", got, want)
	}
	if got := out.Sample(99, 99); got != wantEnd {
		t.Errorf("pixel (99,99) = %v, want source (109,109) %v", got, wantEnd)
	}
	if out.PTS != 7 || out.Duration != 1 {
		t.Errorf("timestamps not carried over: pts %d duration %d", out.PTS, out.Duration)
	}
	if fx.resampler.Calls != 0 {
		t.Errorf("unexpected rescale, %d resampler calls", fx.resampler.Calls)
	}
	out.Release()

	if st := s.Stats(); st.Emitted != 1 {
		t.Errorf("expected 1 emitted frame, got %d", st.Emitted)
	}
	if fx.alloc.Live() != 0 {
		t.Errorf("%d buffers leaked", fx.alloc.Live())
	}
}

func TestExecute_RescalesToOutputSize(t *testing.T) {
	fx := newFixture()
	opts := DefaultOptions()
	opts.OutW, opts.OutH = "in_w/2", "ow"
	opts.Store = store(t, annotation.Record{CropX: 0, CropY: 0, CropW: 50, CropH: 40, Scale: 1})
	s := fx.stage(t, opts)

	if err := s.Configure(160, 120); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if w, h := s.OutputSize(); w != 80 || h != 80 {
		t.Fatalf("expected output 80x80, got %dx%d", w, h)
	}

	out, err := s.Execute(context.Background(), pipeline.Pair{Main: fx.gradient(t, 160, 120)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Width != 80 || out.Height != 80 {
		t.Errorf("expected 80x80, got %dx%d", out.Width, out.Height)
	}
	if fx.resampler.Calls != 1 {
		t.Errorf("expected 1 resampler call, got %d", fx.resampler.Calls)
	}
	out.Release()
	if fx.alloc.Live() != 0 {
		t.Errorf("%d buffers leaked", fx.alloc.Live())
	}
}

func TestExecute_ScalesOverlay(t *testing.T) {
	tests := []struct {
		name          string
		scale         float64
		wantW, wantH  int
		wantCorrected int
	}{
		{"no scale", 1, 0, 0, 0},
		{"even result", 1.5, 96, 96, 0},
		{"odd result corrected", 1.3, 84, 84, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture()
			var gotW, gotH int
			fx.resampler.ResampleFunc = func(dst, src *frame.Frame) error {
				gotW, gotH = dst.Width, dst.Height
				dst.Fill(src.At(0, 0))
				return nil
			}
			rec := full(200, 200)
			rec.OverlayX, rec.OverlayY, rec.Scale = 20, 20, tt.scale
			opts := DefaultOptions()
			opts.Store = store(t, rec)
			s := fx.stage(t, opts)

			out, err := s.Execute(context.Background(), pipeline.Pair{
				Main:    fx.gradient(t, 200, 200),
				Overlay: fx.overlay(t, 64, 64, 255),
			})
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			defer out.Release()

			if tt.wantW != 0 && (gotW != tt.wantW || gotH != tt.wantH) {
				t.Errorf("overlay scaled to %dx%d, want %dx%d", gotW, gotH, tt.wantW, tt.wantH)
			}
			if tt.wantW == 0 && fx.resampler.Calls != 0 {
				t.Errorf("overlay rescaled with scale 1")
			}
			if n := fx.logger.Count(ports.LevelWarn, "corrected to even"); n != tt.wantCorrected {
				t.Errorf("expected %d correction warnings, got %d", tt.wantCorrected, n)
			}
			// the overlay is opaque white
			if y := out.Sample(25, 25)[0]; y < 250 {
				t.Errorf("overlay not composited, luma %d", y)
			}
		})
	}
}

func TestExecute_OverlayOffFrameIsSkipped(t *testing.T) {
	fx := newFixture()
	rec := full(100, 100)
	rec.OverlayX, rec.OverlayY = 500, -500
	opts := DefaultOptions()
	opts.Store = store(t, rec)
	s := fx.stage(t, opts)

	main := fx.gradient(t, 100, 100)
	before := main.Sample(50, 50)
	out, err := s.Execute(context.Background(), pipeline.Pair{Main: main, Overlay: fx.overlay(t, 32, 32, 255)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Sample(50, 50) != before {
		t.Error("frame changed by an off-frame overlay")
	}
	out.Release()
	if fx.alloc.Live() != 0 {
		t.Errorf("%d buffers leaked", fx.alloc.Live())
	}
}

func TestExecute_GeometryErrorDropsFrame(t *testing.T) {
	fx := newFixture()
	opts := DefaultOptions()
	opts.Store = store(t,
		annotation.Record{CropW: 300, CropH: 50, Scale: 1},
		full(100, 100),
	)
	s := fx.stage(t, opts)

	_, err := s.Execute(context.Background(), pipeline.Pair{Main: fx.gradient(t, 100, 100), Overlay: fx.overlay(t, 8, 8, 255)})
	var gerr *geometry.GeometryError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GeometryError, got %v", err)
	}
	if fx.alloc.Live() != 0 {
		t.Errorf("%d buffers leaked on error", fx.alloc.Live())
	}

	// the cursor did not move, so the same record fails again
	_, err = s.Execute(context.Background(), pipeline.Pair{Main: fx.gradient(t, 100, 100)})
	if !errors.As(err, &gerr) {
		t.Fatalf("expected the same record to be used again, got %v", err)
	}
	if st := s.Stats(); st.Emitted != 0 {
		t.Errorf("expected no emitted frames, got %d", st.Emitted)
	}
}

func TestExecute_HugeCropBoxIsGeometryError(t *testing.T) {
	fx := newFixture()
	opts := DefaultOptions()
	opts.Store = store(t, annotation.Record{
		CropX: 9_200_000_000_000_000_000, CropW: 9_200_000_000_000_000_000, CropH: 10, Scale: 1,
	})
	s := fx.stage(t, opts)

	_, err := s.Execute(context.Background(), pipeline.Pair{Main: fx.gradient(t, 200, 200)})
	var gerr *geometry.GeometryError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GeometryError, got %v", err)
	}
	if errors.Is(err, transform.ErrResample) {
		t.Errorf("reported as a resample failure: %v", err)
	}
	if fx.alloc.Live() != 0 {
		t.Errorf("%d buffers leaked on error", fx.alloc.Live())
	}
}

func TestExecute_ResampleErrorReleasesIntermediates(t *testing.T) {
	fx := newFixture()
	fx.resampler.ResampleFunc = func(dst, src *frame.Frame) error {
		return errors.New("no context")
	}
	rec := full(64, 64)
	rec.Scale = 2
	opts := DefaultOptions()
	opts.Store = store(t, rec)
	s := fx.stage(t, opts)

	_, err := s.Execute(context.Background(), pipeline.Pair{Main: fx.gradient(t, 64, 64), Overlay: fx.overlay(t, 16, 16, 255)})
	if !errors.Is(err, transform.ErrResample) {
		t.Fatalf("expected ErrResample, got %v", err)
	}
	if fx.alloc.Live() != 0 {
		t.Errorf("%d buffers leaked on error", fx.alloc.Live())
	}
}

func TestExecute_CursorSaturates(t *testing.T) {
	fx := newFixture()
	opts := DefaultOptions()
	first := full(40, 40)
	last := annotation.Record{CropX: 8, CropY: 8, CropW: 16, CropH: 16, Scale: 1}
	opts.Store = store(t, first, last)
	opts.OutW, opts.OutH = "iw", "ih"
	s := fx.stage(t, opts)
	if err := s.Configure(16, 16); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		out, err := s.Execute(context.Background(), pipeline.Pair{Main: fx.gradient(t, 40, 40), Index: i})
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		out.Release()
	}
	st := s.Stats()
	if !st.Saturated || st.Overruns != 3 || st.Emitted != 5 {
		t.Errorf("unexpected stats %+v", st)
	}
	if n := fx.logger.Count(ports.LevelWarn, "has no annotation"); n != 1 {
		t.Errorf("expected one saturation warning, got %d", n)
	}
}

func TestExecute_PassthroughAdvance(t *testing.T) {
	for _, advance := range []bool{true, false} {
		fx := newFixture()
		opts := DefaultOptions()
		opts.AdvanceOnPassthrough = advance
		opts.Store = store(t, full(20, 20), full(10, 10))
		opts.OutW, opts.OutH = "20", "20"
		s := fx.stage(t, opts)

		out, err := s.Execute(context.Background(), pipeline.Pair{Main: fx.gradient(t, 20, 20)})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		out.Release()

		// the second record needs a rescale from 10x10
		out, err = s.Execute(context.Background(), pipeline.Pair{Main: fx.gradient(t, 20, 20)})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		out.Release()
		wantCalls := 0
		if advance {
			wantCalls = 1
		}
		if fx.resampler.Calls != wantCalls {
			t.Errorf("advance=%v: expected %d rescales, got %d", advance, wantCalls, fx.resampler.Calls)
		}
	}
}

func TestExecute_StaticPosition(t *testing.T) {
	fx := newFixture()
	opts := DefaultOptions()
	opts.X, opts.Y = "main_w-overlay_w-11", "(H-h)/2"
	s := fx.stage(t, opts)

	main := fx.gradient(t, 100, 60)
	out, err := s.Execute(context.Background(), pipeline.Pair{Main: main, Overlay: fx.overlay(t, 20, 20, 255)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer out.Release()
	if out.Width != 100 || out.Height != 60 {
		t.Errorf("static mode changed the size to %dx%d", out.Width, out.Height)
	}
	// x = 69 aligned down to 68, y = 20
	if y := out.Sample(68, 20)[0]; y < 250 {
		t.Errorf("overlay not at the aligned position, luma %d", y)
	}
	if y := out.Sample(67, 20)[0]; y >= 250 {
		t.Error("overlay drawn left of the aligned position")
	}
}

func TestExecute_DebugPreview(t *testing.T) {
	fx := newFixture()
	fx.sink = mocks.NewDebugSink(true)
	rec := annotation.Record{CropX: 4, CropY: 6, CropW: 32, CropH: 32, OverlayX: 2, OverlayY: 2, Scale: 1, Label: "car"}
	opts := DefaultOptions()
	opts.Store = store(t, rec)
	opts.OutW, opts.OutH = "32", "32"
	s := fx.stage(t, opts)

	out, err := s.Execute(context.Background(), pipeline.Pair{Main: fx.gradient(t, 64, 64), Overlay: fx.overlay(t, 8, 8, 128)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	out.Release()

	p, ok := fx.sink.Preview(0)
	if !ok {
		t.Fatal("no preview saved")
	}
	if p.Bounds.Dx() != 64 || p.Boxes.CropX != 4 || p.Boxes.CropW != 32 || !p.Boxes.HasOverlay || p.Boxes.OverlayW != 8 || p.Boxes.Label != "car" {
		t.Errorf("unexpected preview %+v", p)
	}
}

func TestReconfigure(t *testing.T) {
	fx := newFixture()
	opts := DefaultOptions()
	opts.Store = store(t, full(40, 40))
	s := fx.stage(t, opts)
	if err := s.Configure(40, 40); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	if err := s.Reconfigure("out_w", "main_w/2"); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}
	if w, h := s.OutputSize(); w != 20 || h != 40 {
		t.Errorf("expected 20x40, got %dx%d", w, h)
	}

	// a zero width fails validation and keeps the previous size
	if err := s.Reconfigure("w", "0"); err == nil {
		t.Error("expected error for zero width")
	}
	if w, _ := s.OutputSize(); w != 20 {
		t.Errorf("rollback failed, width %d", w)
	}
	if err := s.Reconfigure("h", "main_h +"); err == nil {
		t.Error("expected compile error")
	}
	if err := s.Reconfigure("rotate", "1"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}

	out, err := s.Execute(context.Background(), pipeline.Pair{Main: fx.gradient(t, 40, 40)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Width != 20 || out.Height != 40 {
		t.Errorf("expected 20x40 output, got %dx%d", out.Width, out.Height)
	}
	out.Release()
}

func TestNewStage_BadExpression(t *testing.T) {
	fx := newFixture()
	opts := DefaultOptions()
	opts.OutW = "main_w *"
	b, _ := blend.ForFormats(frame.YUV420P, frame.YUVA420P, blend.Straight, 1)
	if _, err := NewStage(opts, transform.New(fx.alloc, fx.resampler), b, nil, fx.logger); err == nil {
		t.Error("expected compile error")
	}
}

func TestParseEvalMode(t *testing.T) {
	if m, err := ParseEvalMode("init"); err != nil || m != EvalInit {
		t.Errorf("ParseEvalMode(init) = %v, %v", m, err)
	}
	if _, err := ParseEvalMode("never"); err == nil {
		t.Error("expected error")
	}
}
