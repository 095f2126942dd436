package rules

import (
	"log/slog"
	"path/filepath"
	"regexp"
)

// FrameworksFile enumerates framework-detection rules in the settings dir.
const FrameworksFile = "frameworks.yml"

// FrameworkRule describes how one framework is recognised, via three
// detection kinds: dependency tokens inside manifest files, presence of
// config files by exact name, and code patterns in files with given
// extensions.
type FrameworkRule struct {
	Name           string   `yaml:"name"`
	Manifests      []string `yaml:"manifests"`
	Dependencies   []string `yaml:"dependencies"`
	ConfigFiles    []string `yaml:"config_files"`
	CodePatterns   []string `yaml:"code_patterns"`
	CodeExtensions []string `yaml:"code_extensions"`

	compiled []*regexp.Regexp
}

// CodeRegexps returns the compiled code patterns.
func (f *FrameworkRule) CodeRegexps() []*regexp.Regexp { return f.compiled }

// LoadFrameworks reads frameworks.yml from dir. A missing file yields an
// empty rule set; a pattern that does not compile is dropped with a warning.
func LoadFrameworks(dir string) ([]FrameworkRule, error) {
	var doc struct {
		Frameworks []FrameworkRule `yaml:"frameworks"`
	}
	path := filepath.Join(dir, FrameworksFile)
	if err := readYAML(path, &doc); err != nil {
		slog.Warn("Framework rules unavailable; framework detection disabled",
			"path", path, "error", err)
		return nil, nil
	}

	out := make([]FrameworkRule, 0, len(doc.Frameworks))
	for _, fr := range doc.Frameworks {
		for _, p := range fr.CodePatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				slog.Warn("Dropping framework code pattern",
					"framework", fr.Name, "pattern", p, "error", err)
				continue
			}
			fr.compiled = append(fr.compiled, re)
		}
		out = append(out, fr)
	}
	return out, nil
}
