// Package ffmpeg decodes and encodes raw video frames through an ffmpeg
// child process.
package ffmpeg

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

var (
	// ErrNotFound is returned when no ffmpeg executable can be located.
	ErrNotFound = errors.New("ffmpeg: executable not found")

	// ErrClosed is returned when a closed source or sink is used.
	ErrClosed = errors.New("ffmpeg: closed")
)

// Find locates ffmpeg. Priority: 1) custom, 2) FFMPEG_PATH env,
// 3) PATH, 4) common install locations.
func Find(custom string) (string, error) {
	if custom != "" {
		if _, err := os.Stat(custom); err == nil {
			return custom, nil
		}
		return "", fmt.Errorf("%w: custom path %s", ErrNotFound, custom)
	}

	if envPath := os.Getenv("FFMPEG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
		return "", fmt.Errorf("%w: FFMPEG_PATH %s", ErrNotFound, envPath)
	}

	execName := "ffmpeg"
	if runtime.GOOS == "windows" {
		execName = "ffmpeg.exe"
	}
	if path, err := exec.LookPath(execName); err == nil {
		return path, nil
	}

	for _, p := range commonPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrNotFound
}

func commonPaths() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\ffmpeg\bin\ffmpeg.exe`,
			`C:\Program Files\ffmpeg\bin\ffmpeg.exe`,
		}
	case "darwin":
		return []string{
			"/opt/homebrew/bin/ffmpeg",
			"/usr/local/bin/ffmpeg",
			"/usr/bin/ffmpeg",
		}
	}
	return []string{
		"/usr/bin/ffmpeg",
		"/usr/local/bin/ffmpeg",
		"/snap/bin/ffmpeg",
	}
}
