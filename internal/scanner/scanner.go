package scanner

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/secrethound/secrethound/internal/rules"
	"github.com/secrethound/secrethound/models"
)

// Per-file safety caps.
const (
	MaxLineLength     = 15000 // characters per line before the line is skipped
	MaxSecretsPerFile = 50
	batchSize         = 5
)

// Result aggregates one directory scan.
type Result struct {
	Findings        []models.Finding
	FilesScanned    int
	FilesExcluded   int
	SkippedPatterns int // too-long lines replaced by a sentinel
}

// Scanner applies the rule catalog to a directory tree. Read-only after
// construction, safe for concurrent scans.
type Scanner struct {
	catalog *rules.Catalog

	// Progress, when set, is called with the running files-scanned count at
	// roughly every 10% of the walk. Calls are serialized under the result
	// lock, so counts arrive in increasing order.
	Progress func(filesScanned int)
}

func New(catalog *rules.Catalog) *Scanner {
	return &Scanner{catalog: catalog}
}

// ScanDir walks root and scans every non-excluded regular file in batches.
// Findings carry paths relative to root with forward slashes.
func (s *Scanner) ScanDir(ctx context.Context, root string) (*Result, error) {
	var files []string
	res := &Result{}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if s.catalog.Excluded(d.Name()) {
			res.FilesExcluded++
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	step := len(files) / 10
	if step < 1 {
		step = 1
	}

	var mu sync.Mutex
	for start := 0; start < len(files); start += batchSize {
		end := min(start+batchSize, len(files))
		g, gctx := errgroup.WithContext(ctx)
		for _, path := range files[start:end] {
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				findings, skipped := s.scanFile(path, root)
				mu.Lock()
				res.Findings = append(res.Findings, findings...)
				res.SkippedPatterns += skipped
				res.FilesScanned++
				if s.Progress != nil && res.FilesScanned%step == 0 {
					s.Progress(res.FilesScanned)
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	slog.Info("Directory scan finished",
		"root", root,
		"files_scanned", res.FilesScanned,
		"files_excluded", res.FilesExcluded,
		"skipped_patterns", res.SkippedPatterns,
		"findings", len(res.Findings),
	)
	return res, nil
}

// scanFile scans one file line by line. Returned findings have empty
// severity except sentinels, which arrive pre-scored.
func (s *Scanner) scanFile(path, root string) ([]models.Finding, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Skipping unreadable file", "path", path, "error", err)
		return nil, 0
	}

	rel := relPath(path, root)
	var findings []models.Finding
	skipped := 0

	lines := strings.Split(string(data), "\n")
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		lineNo := i + 1

		if n := len([]rune(line)); n > MaxLineLength {
			findings = append(findings, models.Finding{
				Path: rel,
				Line: lineNo,
				Secret: fmt.Sprintf(
					"СТРОКА НЕ СКАНИРОВАЛАСЬ т.к. её длина составляет %d символов. MD5 строки: %x",
					n, md5.Sum([]byte(line))),
				Severity:   models.SeverityPotential,
				Type:       models.TypeTooLongLine,
				Confidence: 0.5,
			})
			skipped++
			continue
		}

		context := strings.TrimSpace(line)
		for _, rule := range s.catalog.Rules() {
			match := rule.Match(line)
			if match == "" {
				continue
			}
			if !s.catalog.IsFalsePositive(context) {
				findings = append(findings, models.Finding{
					Path:       rel,
					Line:       lineNo,
					Secret:     match,
					Context:    context,
					Type:       rule.Message,
					Confidence: 1.0,
				})
			}
			break // first matching rule wins for this line
		}
	}

	if overflow := secretCount(findings); overflow > MaxSecretsPerFile {
		findings = []models.Finding{tooManySecrets(rel, findings)}
	}
	return findings, skipped
}

// secretCount counts rule-matched findings, ignoring per-line sentinels.
func secretCount(findings []models.Finding) int {
	n := 0
	for _, f := range findings {
		if f.Type != models.TypeTooLongLine {
			n++
		}
	}
	return n
}

// tooManySecrets collapses a file's findings into the single replacement
// sentinel: the digest covers every discarded match, the context keeps the
// full dump for human review.
func tooManySecrets(rel string, findings []models.Finding) models.Finding {
	var matches []string
	for _, f := range findings {
		if f.Type != models.TypeTooLongLine {
			matches = append(matches, f.Secret)
		}
	}
	dump := strings.Join(matches, "\n")
	return models.Finding{
		Path: rel,
		Line: 0,
		Secret: fmt.Sprintf(
			"ФАЙЛ НЕ ВЫВЕДЕН ПОЛНОСТЬЮ т.к. найдено %d секретов. MD5 всех находок: %x",
			len(matches), md5.Sum([]byte(dump))),
		Context:    fmt.Sprintf("Найдено %d секретов:\n%s", len(matches), dump),
		Severity:   models.SeverityHigh,
		Type:       models.TypeTooManySecrets,
		Confidence: 1.0,
	}
}

// relPath strips the extraction root and normalises to forward slashes.
// The result keeps its leading slash ("/config.env").
func relPath(path, root string) string {
	p := strings.TrimPrefix(filepath.ToSlash(path), filepath.ToSlash(root))
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
