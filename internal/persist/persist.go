// Package persist writes digest output files and enforces the 48-hour
// rebuild-window idempotency rule (spec §4.8 "Assemble & persist", §6
// "Persisted state").
package persist

import (
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/d1249/maildigest/internal/apperr"
	"github.com/d1249/maildigest/internal/domain"
)

// Paths returns the json/md output paths for (outDir, digestDate), per
// spec §6 "<out>/digest-YYYY-MM-DD.{json,md}".
func Paths(outDir string, digestDate time.Time) (jsonPath, mdPath string) {
	stamp := digestDate.Format("2006-01-02")
	return filepath.Join(outDir, "digest-"+stamp+".json"),
		filepath.Join(outDir, "digest-"+stamp+".md")
}

// ShouldSkip reports whether an existing output should be reused instead of
// re-running the pipeline: the output exists, was written within
// rebuildWindow of now, and force is false (spec §4.8 "Idempotency").
func ShouldSkip(jsonPath string, rebuildWindow time.Duration, force bool, now time.Time) (bool, error) {
	if force {
		return false, nil
	}
	info, err := os.Stat(jsonPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return now.Sub(info.ModTime()) < rebuildWindow, nil
}

// Write serializes the digest envelope to JSON and writes both output
// files. The core never holds file handles longer than the write itself
// (spec §4.8 "Retention").
func Write(outDir string, digestDate time.Time, digest domain.Digest, rendered string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindInputSchema, "failed to create output directory", err)
	}

	jsonPath, mdPath := Paths(outDir, digestDate)

	body, err := json.MarshalIndent(digest, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInputSchema, "failed to marshal digest envelope", err)
	}
	if err := os.WriteFile(jsonPath, body, 0o644); err != nil {
		return apperr.Wrap(apperr.KindInputSchema, "failed to write digest json", err)
	}
	if err := os.WriteFile(mdPath, []byte(rendered), 0o644); err != nil {
		return apperr.Wrap(apperr.KindInputSchema, "failed to write rendered digest", err)
	}
	return nil
}

// Watermark is the last successfully processed instant per mailbox folder
// (spec §6 "Persisted state").
type Watermark struct {
	Folder    string    `json:"folder"`
	Processed time.Time `json:"processed"`
}

// WatermarkPath returns the watermark file path for one folder under
// outDir.
func WatermarkPath(outDir, folder string) string {
	return filepath.Join(outDir, "watermark-"+sanitizeFolder(folder)+".json")
}

func sanitizeFolder(folder string) string {
	out := make([]byte, 0, len(folder))
	for i := 0; i < len(folder); i++ {
		c := folder[i]
		if c == '/' || c == '\\' || c == ' ' {
			out = append(out, '_')
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// ReadWatermark loads the last-processed instant for folder. A missing or
// corrupt watermark falls back to (zero time, ok=false) so the caller can
// apply the configured lookback window instead (spec §6 "Corrupt watermark
// falls back to the configured lookback window").
func ReadWatermark(outDir, folder string) (time.Time, bool) {
	path := WatermarkPath(outDir, folder)
	body, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	var wm Watermark
	if err := json.Unmarshal(body, &wm); err != nil {
		return time.Time{}, false
	}
	if wm.Processed.IsZero() {
		return time.Time{}, false
	}
	return wm.Processed, true
}

// WriteWatermark persists the last successfully processed instant for
// folder.
func WriteWatermark(outDir, folder string, processed time.Time) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	body, err := json.Marshal(Watermark{Folder: folder, Processed: processed})
	if err != nil {
		return err
	}
	return os.WriteFile(WatermarkPath(outDir, folder), body, 0o644)
}
