package repository

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/secrethound/secrethound/internal/rules"
)

// Final-path limits applied during extraction.
const (
	maxExtractedPath = 250
	maxBasename      = 100
)

// SafeExtract extracts the zip at archivePath into destDir, dropping
// dangerous or excluded entries. Returns the extraction root (destDir).
func SafeExtract(archivePath, destDir string, catalog *rules.Catalog) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()
	return destDir, extractAll(&r.Reader, destDir, catalog)
}

// ExtractBytes extracts an in-memory zip (local-scan uploads) into destDir.
func ExtractBytes(data []byte, destDir string, catalog *rules.Catalog) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("reading archive: %w", err)
	}
	return destDir, extractAll(r, destDir, catalog)
}

func extractAll(r *zip.Reader, destDir string, catalog *rules.Catalog) error {
	extracted, skipped := 0, 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.ToSlash(f.Name)
		if !safeEntryName(name) {
			slog.Warn("Skipping unsafe archive entry", "name", f.Name)
			skipped++
			continue
		}
		base := filepath.Base(name)
		if catalog != nil && catalog.Excluded(base) {
			skipped++
			continue
		}

		target := filepath.Join(destDir, filepath.FromSlash(name))
		if len(target) > maxExtractedPath {
			target = truncateBasename(target)
		}
		if err := writeEntry(f, target); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		extracted++
	}
	slog.Info("Archive extracted", "dest", destDir, "files", extracted, "skipped", skipped)
	return nil
}

// safeEntryName rejects absolute paths and any ".." traversal component.
func safeEntryName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return false
	}
	if len(name) > 1 && name[1] == ':' { // windows drive
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

func truncateBasename(path string) string {
	dir, base := filepath.Split(path)
	if len(base) > maxBasename {
		ext := filepath.Ext(base)
		keep := maxBasename - len(ext)
		if keep < 1 {
			keep = maxBasename
			ext = ""
		}
		base = base[:keep] + ext
	}
	return filepath.Join(dir, base)
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src) // #nosec G110 -- scanner caps bound downstream memory use
	return err
}
