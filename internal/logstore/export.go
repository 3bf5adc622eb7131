package logstore

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ExportBundle writes a diagnostics bundle as tar.gz to w. The bundle holds
// every log file in the store's directory plus the named extra files
// (archive name → path on disk). Extra files that do not exist are skipped;
// diagnostics must come out even when parts are missing.
func (s *Store) ExportBundle(w io.Writer, extra map[string]string) error {
	gz := gzip.NewWriter(w)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	matches, err := filepath.Glob(filepath.Join(s.logsDir, "*.ndjson*"))
	if err != nil {
		return fmt.Errorf("scan log dir: %w", err)
	}
	for _, path := range matches {
		if err := addFile(tw, "logs/"+filepath.Base(path), path); err != nil {
			return err
		}
	}

	for name, path := range extra {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := addFile(tw, strings.TrimPrefix(name, "/"), path); err != nil {
			return err
		}
	}

	return nil
}

func addFile(tw *tar.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	hdr := &tar.Header{
		Name:    name,
		Mode:    0600,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// BundleName returns a timestamped file name for a diagnostics bundle.
func BundleName(now time.Time) string {
	return fmt.Sprintf("winbox-diagnostics-%s.tar.gz", now.Format("20060102-150405"))
}
