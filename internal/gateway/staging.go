package gateway

import (
	"fmt"
	"log/slog"
	"os"
)

// stageChunk writes the audio chunk to a transient file in dir (or the OS
// temp directory when dir is empty) and returns the path together with a
// cleanup function. The cleanup function is safe to call multiple times and
// must run on every exit path of the request.
func stageChunk(dir string, chunk []byte) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp(dir, "voxroad-chunk-*.audio")
	if err != nil {
		return "", nil, fmt.Errorf("gateway: create staging file: %w", err)
	}
	path = f.Name()

	removed := false
	cleanup = func() {
		if removed {
			return
		}
		removed = true
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("gateway: failed to remove staging file", "path", path, "error", err)
		}
	}

	if _, err := f.Write(chunk); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("gateway: write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("gateway: close staging file: %w", err)
	}
	return path, cleanup, nil
}
