package mux

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// WriteSidecar persists the artifact's chapter map next to its audio so a
// later process can serve the artifact without regenerating anything.
func WriteSidecar(audioDir string, art *Artifact) error {
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(audioDir, SidecarBasename(art.Key))
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// ScanSidecars loads every artifact sidecar under audioDir whose merged
// audio still exists. Unreadable or orphaned sidecars are skipped with a
// warning; they do not abort the scan.
func ScanSidecars(audioDir string) []*Artifact {
	entries, err := os.ReadDir(audioDir)
	if err != nil {
		slog.Warn("Artifact scan failed", "dir", audioDir, "error", err)
		return nil
	}

	var arts []*Artifact
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "mix_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(audioDir, name))
		if err != nil {
			slog.Warn("Skipping unreadable sidecar", "file", name, "error", err)
			continue
		}
		var art Artifact
		if err := json.Unmarshal(data, &art); err != nil || art.Key == "" {
			slog.Warn("Skipping malformed sidecar", "file", name, "error", err)
			continue
		}
		if art.URL != "" {
			art.Path = filepath.Join(audioDir, filepath.Base(art.URL))
			if _, err := os.Stat(art.Path); err != nil {
				slog.Warn("Skipping sidecar with missing audio", "file", name, "audio", art.Path)
				continue
			}
		}
		arts = append(arts, &art)
	}
	if len(arts) > 0 {
		slog.Debug("Artifact cache warmed", "dir", audioDir, "artifacts", len(arts))
	}
	return arts
}
