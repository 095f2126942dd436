package rules

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Settings file names inside the settings directory.
const (
	RulesFile              = "rules.yml"
	ExcludedFilesFile      = "excluded_files.yml"
	ExcludedExtensionsFile = "excluded_extensions.yml"
	FalsePositivesFile     = "false-positive.yml"
)

// Rule is one regex detection rule from rules.yml.
type Rule struct {
	ID       string `yaml:"id"`
	Message  string `yaml:"message"`
	Pattern  string `yaml:"pattern"`
	Severity string `yaml:"severity"`

	re *regexp.Regexp
}

// Match returns the first match of the rule's pattern in line, or "".
func (r *Rule) Match(line string) string {
	return r.re.FindString(line)
}

// Catalog is the immutable bundle of detection rules plus exclusion and
// false-positive sets. Safe for concurrent reads after Load.
type Catalog struct {
	rules          []Rule
	excludedFiles  map[string]struct{}
	excludedExts   map[string]struct{}
	falsePositives []string // lower-cased substrings
}

// Load reads the four settings files from dir. A rule whose pattern does
// not compile is logged and dropped; one bad rule never fails the load.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{
		excludedFiles: map[string]struct{}{},
		excludedExts:  map[string]struct{}{},
	}

	var raw []Rule
	if err := readYAML(filepath.Join(dir, RulesFile), &raw); err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	for _, r := range raw {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			slog.Warn("Dropping rule with invalid pattern",
				"id", r.ID, "pattern", r.Pattern, "error", err)
			continue
		}
		r.re = re
		c.rules = append(c.rules, r)
	}

	var ef struct {
		ExcludedFiles []string `yaml:"excluded_files"`
	}
	if err := readYAML(filepath.Join(dir, ExcludedFilesFile), &ef); err != nil {
		return nil, fmt.Errorf("loading excluded files: %w", err)
	}
	for _, name := range ef.ExcludedFiles {
		c.excludedFiles[strings.ToLower(name)] = struct{}{}
	}

	var ee struct {
		ExcludedExtensions []string `yaml:"excluded_extensions"`
	}
	if err := readYAML(filepath.Join(dir, ExcludedExtensionsFile), &ee); err != nil {
		return nil, fmt.Errorf("loading excluded extensions: %w", err)
	}
	for _, ext := range ee.ExcludedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.excludedExts[ext] = struct{}{}
	}

	var fp struct {
		FalsePositive []string `yaml:"false_positive"`
	}
	if err := readYAML(filepath.Join(dir, FalsePositivesFile), &fp); err != nil {
		return nil, fmt.Errorf("loading false positives: %w", err)
	}
	for _, s := range fp.FalsePositive {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			c.falsePositives = append(c.falsePositives, s)
		}
	}

	slog.Info("Rule catalog loaded",
		"rules", len(c.rules),
		"excluded_files", len(c.excludedFiles),
		"excluded_extensions", len(c.excludedExts),
		"false_positives", len(c.falsePositives),
	)
	return c, nil
}

// Rules returns the ordered rule list; iteration order defines match
// precedence (first matching rule wins per line).
func (c *Catalog) Rules() []Rule { return c.rules }

// Excluded reports whether a file with the given basename should be
// skipped, by literal name or by extension.
func (c *Catalog) Excluded(basename string) bool {
	lower := strings.ToLower(basename)
	if _, ok := c.excludedFiles[lower]; ok {
		return true
	}
	if ext := LongestExt(lower); ext != "" {
		if _, ok := c.excludedExts[ext]; ok {
			return true
		}
	}
	return false
}

// IsFalsePositive reports whether the context line contains any configured
// false-positive substring (case-insensitive literal containment).
func (c *Catalog) IsFalsePositive(context string) bool {
	lower := strings.ToLower(context)
	for _, sub := range c.falsePositives {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// LongestExt returns the longest trailing ".xxx" extension of a basename,
// lower-cased: "archive.tar.gz" -> ".tar.gz", ".env" -> ".env", "README" -> "".
func LongestExt(basename string) string {
	idx := strings.Index(basename, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(basename[idx:])
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
