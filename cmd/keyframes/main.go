// Package main provides the CLI entry point for keyframes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ideamans/go-l10n"
	"github.com/urfave/cli/v2"

	"github.com/user/keyframes/pkg/adapters/ffmpeg"
	"github.com/user/keyframes/pkg/adapters/filesink"
	"github.com/user/keyframes/pkg/adapters/ggrenderer"
	"github.com/user/keyframes/pkg/adapters/imagesource"
	"github.com/user/keyframes/pkg/adapters/logger"
	"github.com/user/keyframes/pkg/adapters/mp4probe"
	"github.com/user/keyframes/pkg/adapters/nullsink"
	"github.com/user/keyframes/pkg/adapters/osfilesystem"
	"github.com/user/keyframes/pkg/adapters/xresampler"
	"github.com/user/keyframes/pkg/annotation"
	"github.com/user/keyframes/pkg/config"
	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/orchestrator"
	"github.com/user/keyframes/pkg/ports"
	"github.com/user/keyframes/pkg/summarizer"
	"github.com/user/keyframes/pkg/transform"
)

var version = "dev"

const (
	catIO       = "Input and Output"
	catGeometry = "Geometry"
	catSync     = "Stream Sync"
	catVideo    = "Video and Quality"
	catErrors   = "Error Handling"
	catDebug    = "Debug"
	catLogging  = "Logging"
)

func main() {
	app := &cli.App{
		Name:    "keyframes",
		Usage:   l10n.T("Crop and overlay video along per-frame annotations"),
		Version: version,
		Commands: []*cli.Command{
			runCommand(),
			convertCommand(),
			probeCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: l10n.T("Process a video along its annotations"),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: l10n.T("YAML configuration file"), Category: l10n.T(catIO)},
			&cli.StringFlag{Name: "main", Aliases: []string{"i"}, Usage: l10n.T("Main input video"), Category: l10n.T(catIO)},
			&cli.StringFlag{Name: "overlay", Usage: l10n.T("Overlay video or image glob"), Category: l10n.T(catIO)},
			&cli.StringFlag{Name: "annotations", Aliases: []string{"a"}, Usage: l10n.T("Annotation file (JSON or YAML)"), Category: l10n.T(catIO)},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: l10n.T("Output video file"), Category: l10n.T(catIO)},
			&cli.StringFlag{Name: "summary", Usage: l10n.T("Write a Markdown run summary to this file"), Category: l10n.T(catIO)},
			&cli.StringFlag{Name: "ffmpeg", Usage: l10n.T("Path to ffmpeg (falls back to FFMPEG_PATH, then PATH)"), Category: l10n.T(catIO)},

			&cli.StringFlag{Name: "mode", Usage: l10n.T("Processing mode (keyframes, crop)"), Category: l10n.T(catGeometry)},
			&cli.StringFlag{Name: "schema", Usage: l10n.T("Annotation schema (auto, frames, detections)"), Category: l10n.T(catGeometry)},
			&cli.StringFlag{Name: "missing-keys", Usage: l10n.T("Records with missing keys (fail, skip)"), Category: l10n.T(catGeometry)},
			&cli.StringFlag{Name: "target", Usage: l10n.T("Detection name followed in detection lists"), Category: l10n.T(catGeometry)},
			&cli.StringFlag{Name: "out-w", Usage: l10n.T("Output width expression"), Category: l10n.T(catGeometry)},
			&cli.StringFlag{Name: "out-h", Usage: l10n.T("Output height expression"), Category: l10n.T(catGeometry)},
			&cli.StringFlag{Name: "x", Usage: l10n.T("Overlay or crop x expression"), Category: l10n.T(catGeometry)},
			&cli.StringFlag{Name: "y", Usage: l10n.T("Overlay or crop y expression"), Category: l10n.T(catGeometry)},
			&cli.StringFlag{Name: "eval", Usage: l10n.T("When to evaluate x and y (init, frame)"), Category: l10n.T(catGeometry)},
			&cli.BoolFlag{Name: "exact", Usage: l10n.T("Do not align to chroma subsampling"), Category: l10n.T(catGeometry)},
			&cli.BoolFlag{Name: "keep-aspect", Usage: l10n.T("Keep the display aspect ratio when cropping"), Category: l10n.T(catGeometry)},

			&cli.StringFlag{Name: "eof-action", Usage: l10n.T("Overlay end of stream action (repeat, endall, pass)"), Category: l10n.T(catSync)},
			&cli.BoolFlag{Name: "shortest", Usage: l10n.T("Stop when the shortest input ends"), Category: l10n.T(catSync)},
			&cli.BoolFlag{Name: "repeatlast", Usage: l10n.T("Repeat the last overlay frame after it ends"), Category: l10n.T(catSync)},
			&cli.StringFlag{Name: "alpha", Usage: l10n.T("Overlay alpha mode (straight, premultiplied)"), Category: l10n.T(catSync)},

			&cli.IntFlag{Name: "width", Aliases: []string{"W"}, Usage: l10n.T("Main input width (probed when omitted)"), Category: l10n.T(catVideo)},
			&cli.IntFlag{Name: "height", Aliases: []string{"H"}, Usage: l10n.T("Main input height (probed when omitted)"), Category: l10n.T(catVideo)},
			&cli.StringFlag{Name: "fps", Usage: l10n.T("Frame rate (e.g. 25, 30000/1001)"), Category: l10n.T(catVideo)},
			&cli.StringFlag{Name: "sar", Usage: l10n.T("Input sample aspect ratio (e.g. 1:1)"), Category: l10n.T(catVideo)},
			&cli.StringFlag{Name: "kernel", Usage: l10n.T("Scaling kernel (nearest, bilinear, bicubic, lanczos)"), Category: l10n.T(catVideo)},
			&cli.IntFlag{Name: "workers", Usage: l10n.T("Blend workers (0 = number of CPUs)"), Category: l10n.T(catVideo)},
			&cli.StringFlag{Name: "codec", Usage: l10n.T("Output codec passed to ffmpeg"), Category: l10n.T(catVideo)},
			&cli.IntFlag{Name: "crf", Aliases: []string{"q"}, Usage: l10n.T("Output CRF (lower is better)"), Category: l10n.T(catVideo)},

			&cli.StringFlag{Name: "on-frame-error", Usage: l10n.T("Per-frame error policy (stop, skip)"), Category: l10n.T(catErrors)},
			&cli.IntFlag{Name: "max-frames", Usage: l10n.T("Stop after this many output frames (0 = all)"), Category: l10n.T(catErrors)},

			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: l10n.T("Enable debug output"), Category: l10n.T(catDebug)},
			&cli.StringFlag{Name: "debug-dir", Usage: l10n.T("Directory for debug output"), Category: l10n.T(catDebug)},
			&cli.BoolFlag{Name: "save-output-frames", Usage: l10n.T("Save every output frame as PNG in debug mode"), Category: l10n.T(catDebug)},

			&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Usage: l10n.T("Log level (debug, info, warn, error)"), Category: l10n.T(catLogging)},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"Q"}, Usage: l10n.T("Suppress all log output"), Category: l10n.T(catLogging)},
		},
		Action: runAction,
	}
}

// loadConfig reads the configuration file, if any, and applies flags that
// were given explicitly on top of it.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Defaults()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return cfg, err
		}
	}

	strs := map[string]*string{
		"main":           &cfg.Main,
		"overlay":        &cfg.Overlay,
		"annotations":    &cfg.Annotations,
		"output":         &cfg.Output,
		"ffmpeg":         &cfg.FFmpegPath,
		"mode":           &cfg.Mode,
		"schema":         &cfg.Schema,
		"missing-keys":   &cfg.MissingKeys,
		"target":         &cfg.Target,
		"out-w":          &cfg.OutW,
		"out-h":          &cfg.OutH,
		"x":              &cfg.X,
		"y":              &cfg.Y,
		"eval":           &cfg.Eval,
		"eof-action":     &cfg.EOFAction,
		"alpha":          &cfg.Alpha,
		"fps":            &cfg.FPS,
		"sar":            &cfg.SAR,
		"kernel":         &cfg.Kernel,
		"codec":          &cfg.Codec,
		"on-frame-error": &cfg.OnFrameError,
		"debug-dir":      &cfg.DebugDir,
		"log-level":      &cfg.LogLevel,
	}
	for name, dst := range strs {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	ints := map[string]*int{
		"width":      &cfg.Width,
		"height":     &cfg.Height,
		"workers":    &cfg.Workers,
		"crf":        &cfg.CRF,
		"max-frames": &cfg.MaxFrames,
	}
	for name, dst := range ints {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	bools := map[string]*bool{
		"exact":              &cfg.Exact,
		"keep-aspect":        &cfg.KeepAspect,
		"shortest":           &cfg.Shortest,
		"repeatlast":         &cfg.RepeatLast,
		"debug":              &cfg.Debug,
		"save-output-frames": &cfg.SaveOutputFrames,
	}
	for name, dst := range bools {
		if c.IsSet(name) {
			*dst = c.Bool(name)
		}
	}

	if cfg.Main == "" {
		return cfg, errors.New(l10n.T("a main input is required (--main)"))
	}
	if cfg.Output == "" {
		return cfg, errors.New(l10n.T("an output file is required (--output)"))
	}
	return cfg, nil
}

func newLogger(quiet bool, level string) ports.Logger {
	if quiet {
		return logger.NewNoop()
	}
	return logger.NewConsole(ports.ParseLogLevel(level))
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := newLogger(c.Bool("quiet"), cfg.LogLevel)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Warn(l10n.T("Interrupted, shutting down..."))
			cancel()
		case <-ctx.Done():
		}
	}()

	fs := osfilesystem.New()
	renderer := ggrenderer.New()
	prober := mp4probe.New()

	// Probe the main input when its size was not given
	video := summarizer.VideoInfo{}
	if cfg.Width == 0 || cfg.Height == 0 {
		info, err := prober.Probe(cfg.Main)
		if err != nil {
			log.Error(l10n.F("Failed to open input: %s", err))
			return fmt.Errorf("probe %s (set --width and --height for non-MP4 input): %w", cfg.Main, err)
		}
		cfg.Width, cfg.Height = info.Width, info.Height
		video.InputFrames = info.FrameCount
		log.Info(l10n.F("Main input %s: %dx%d, %d frames", cfg.Main, info.Width, info.Height, info.FrameCount))
	}
	video.InputWidth, video.InputHeight = cfg.Width, cfg.Height
	video.FrameRate = cfg.FPS

	oc, err := cfg.ToOrchestratorConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	rate, err := cfg.FrameRate()
	if err != nil {
		return err
	}

	resampler, err := xresampler.NewNamed(cfg.Kernel)
	if err != nil {
		return err
	}
	alloc := frame.NewHeapAllocator()
	tr := transform.New(alloc, resampler)

	mainSrc, err := ffmpeg.NewSource(ffmpeg.SourceOptions{
		Path:       cfg.Main,
		FFmpegPath: cfg.FFmpegPath,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Format:     oc.MainFormat,
		FrameRate:  rate,
	}, alloc, log)
	if err != nil {
		return err
	}

	var overlay ports.FrameSource
	if oc.Mode == orchestrator.ModeKeyframes && cfg.Overlay != "" {
		overlay, err = openOverlay(cfg, oc, rate, fs, renderer, prober, alloc, log)
		if err != nil {
			mainSrc.Close()
			return err
		}
	}

	output := ffmpeg.NewSink(ffmpeg.SinkOptions{
		Path:       cfg.Output,
		FFmpegPath: cfg.FFmpegPath,
		FrameRate:  rate,
		SAR:        oc.SAR,
		Codec:      cfg.Codec,
		CRF:        cfg.CRF,
	}, log)

	var sink ports.DebugSink
	if cfg.Debug {
		if err := fs.MkdirAll(cfg.DebugDir); err != nil {
			return fmt.Errorf("create debug directory: %w", err)
		}
		sink = filesink.New(cfg.DebugDir, fs, renderer)
	} else {
		sink = nullsink.New()
	}

	orch := orchestrator.New(mainSrc, overlay, output, tr, fs, sink, log)

	start := time.Now()
	result, runErr := orch.Run(ctx, oc)
	elapsed := time.Since(start)

	if path := c.String("summary"); path != "" {
		if st, err := os.Stat(cfg.Output); err == nil {
			video.FileSize = st.Size()
		}
		summary := summarizer.NewBuilder().
			WithInputs(summarizer.Inputs{
				Main:        cfg.Main,
				Overlay:     cfg.Overlay,
				Annotations: cfg.Annotations,
				Output:      cfg.Output,
			}).
			WithSettings(summarizer.Settings{
				Mode:      string(oc.Mode),
				OutW:      oc.OutW,
				OutH:      oc.OutH,
				X:         oc.X,
				Y:         oc.Y,
				EOFAction: oc.Sync.EOFAction.String(),
				Alpha:     oc.Alpha.String(),
				Kernel:    cfg.Kernel,
			}).
			WithVideo(video).
			WithResult(result, elapsed, runErr).
			Build()
		if err := summarizer.NewWriter(summarizer.NewMarkdownFormatter(), fs).Write(path, summary); err != nil {
			log.Warn(l10n.F("Failed to write summary: %s", err))
		}
	}

	if runErr != nil {
		return runErr
	}
	log.Info(l10n.F("Output saved to %s", cfg.Output))
	return nil
}

// openOverlay opens the overlay input. Still images and globs are read as
// an image sequence, anything else is decoded with ffmpeg.
func openOverlay(cfg config.Config, oc orchestrator.Config, rate frame.Rational, fs ports.FileSystem,
	renderer ports.Renderer, prober ports.Prober, alloc frame.Allocator, log ports.Logger) (ports.FrameSource, error) {
	if isImagePath(cfg.Overlay) {
		src, err := imagesource.New(imagesource.Options{
			Pattern:   cfg.Overlay,
			Format:    oc.OverlayFormat,
			FrameRate: rate,
		}, fs, renderer, alloc)
		if err != nil {
			return nil, err
		}
		log.Info(l10n.F("Overlay input %s: %d images", cfg.Overlay, src.Len()))
		return src, nil
	}

	info, err := prober.Probe(cfg.Overlay)
	if err != nil {
		log.Error(l10n.F("Failed to open input: %s", err))
		return nil, fmt.Errorf("probe overlay %s: %w", cfg.Overlay, err)
	}
	log.Info(l10n.F("Overlay input %s: %dx%d, %d frames", cfg.Overlay, info.Width, info.Height, info.FrameCount))
	return ffmpeg.NewSource(ffmpeg.SourceOptions{
		Path:       cfg.Overlay,
		FFmpegPath: cfg.FFmpegPath,
		Width:      info.Width,
		Height:     info.Height,
		Format:     oc.OverlayFormat,
		FrameRate:  rate,
	}, alloc, log)
}

func isImagePath(path string) bool {
	if strings.ContainsAny(path, "*?[") {
		return true
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     l10n.T("Convert a detection list into frame annotations"),
		ArgsUsage: "<input>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Required: true, Usage: l10n.T("Output JSON file")},
			&cli.StringFlag{Name: "target", Value: annotation.DefaultTarget, Usage: l10n.T("Detection name followed in detection lists")},
			&cli.StringFlag{Name: "schema", Value: annotation.SchemaDetections.String(), Usage: l10n.T("Annotation schema (auto, frames, detections)")},
			&cli.StringFlag{Name: "missing-keys", Value: annotation.MissingKeysFail.String(), Usage: l10n.T("Records with missing keys (fail, skip)")},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New(l10n.T("convert takes exactly one input file"))
			}
			log := logger.NewConsole(ports.LevelInfo)
			schema, err := annotation.ParseSchema(c.String("schema"))
			if err != nil {
				return err
			}
			missing, err := annotation.ParseMissingKeys(c.String("missing-keys"))
			if err != nil {
				return err
			}

			fs := osfilesystem.New()
			store, err := annotation.Load(fs, c.Args().First(), annotation.LoadOptions{
				Schema:      schema,
				MissingKeys: missing,
				Target:      c.String("target"),
				Logger:      log.WithComponent("annotation"),
			})
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(annotation.Canonical(store.Records()), "", "  ")
			if err != nil {
				return err
			}
			out := c.String("output")
			if err := fs.WriteFile(out, append(data, '\n')); err != nil {
				return err
			}
			log.Info(l10n.F("Converted %d records to %s", store.Len(), out))
			return nil
		},
	}
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:      "probe",
		Usage:     l10n.T("Show the video stream of an MP4 file"),
		ArgsUsage: "<file>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New(l10n.T("probe takes exactly one input file"))
			}
			info, err := mp4probe.New().Probe(c.Args().First())
			if err != nil {
				return err
			}
			fmt.Println(l10n.F("Codec: %s", info.Codec))
			fmt.Println(l10n.F("Size: %dx%d", info.Width, info.Height))
			fmt.Println(l10n.F("Frames: %d", info.FrameCount))
			if info.Timescale > 0 {
				fmt.Println(l10n.F("Duration: %.3fs", float64(info.Duration)/float64(info.Timescale)))
			}
			return nil
		},
	}
}
