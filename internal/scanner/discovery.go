package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/secrethound/secrethound/internal/rules"
	"github.com/secrethound/secrethound/models"
)

// detectionFileCap bounds how many files are attributed to one framework
// detection kind; beyond it the count is reported as "100+".
const detectionFileCap = 100

// extLanguages maps a trailing extension to its language bucket. Anything
// not listed lands in "Other".
var extLanguages = map[string]string{
	".go":     "Go",
	".py":     "Python",
	".js":     "JavaScript",
	".jsx":    "JavaScript",
	".ts":     "TypeScript",
	".tsx":    "TypeScript",
	".java":   "Java",
	".kt":     "Kotlin",
	".cs":     "C#",
	".cpp":    "C++",
	".cc":     "C++",
	".cxx":    "C++",
	".c":      "C",
	".h":      "C",
	".hpp":    "C++",
	".rb":     "Ruby",
	".php":    "PHP",
	".rs":     "Rust",
	".swift":  "Swift",
	".m":      "Objective-C",
	".scala":  "Scala",
	".sh":     "Shell",
	".bash":   "Shell",
	".ps1":    "PowerShell",
	".sql":    "SQL",
	".html":   "HTML",
	".htm":    "HTML",
	".css":    "CSS",
	".scss":   "CSS",
	".less":   "CSS",
	".vue":    "Vue",
	".dart":   "Dart",
	".groovy": "Groovy",
	".pl":     "Perl",
	".r":      "R",
	".lua":    "Lua",
	".yml":    "YAML",
	".yaml":   "YAML",
	".json":   "JSON",
	".xml":    "XML",
}

// DetectLanguages walks root and builds the language histogram from file
// extensions only; no file contents are read.
func DetectLanguages(root string) (map[string]models.LanguageStat, error) {
	counts := map[string]int{}
	exts := map[string]map[string]struct{}{}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := lastExt(d.Name())
		lang, ok := extLanguages[ext]
		if !ok {
			lang = "Other"
		}
		counts[lang]++
		if exts[lang] == nil {
			exts[lang] = map[string]struct{}{}
		}
		if ext != "" {
			exts[lang][ext] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("language walk: %w", err)
	}

	out := make(map[string]models.LanguageStat, len(counts))
	for lang, n := range counts {
		var list []string
		for e := range exts[lang] {
			list = append(list, e)
		}
		sort.Strings(list)
		out[lang] = models.LanguageStat{Files: n, Extensions: list}
	}
	return out, nil
}

// lastExt is the final ".xxx" of a basename, lower-cased. Unlike the
// catalog's longest-extension rule this is the conventional extension:
// "archive.tar.gz" -> ".gz".
func lastExt(basename string) string {
	return strings.ToLower(filepath.Ext(basename))
}

// frameworkHits accumulates evidence for one framework across the walk.
type frameworkHits struct {
	manifestFiles int
	dependencies  map[string]struct{}
	configFiles   int
	codeFiles     int
}

// DetectFrameworks walks root evaluating the three detection kinds of every
// framework rule and renders the human-readable evidence lines.
func DetectFrameworks(root string, frameworks []rules.FrameworkRule) (map[string][]string, error) {
	if len(frameworks) == 0 {
		return nil, nil
	}
	hits := make([]frameworkHits, len(frameworks))
	for i := range hits {
		hits[i].dependencies = map[string]struct{}{}
	}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		ext := lastExt(name)

		// Content is read at most once per file, and only when some rule
		// names it as a manifest or code-pattern candidate.
		var content string
		load := func() string {
			if content == "" {
				if data, err := os.ReadFile(path); err == nil {
					content = string(data)
				}
			}
			return content
		}

		for i := range frameworks {
			fr := &frameworks[i]
			h := &hits[i]

			if containsFold(fr.Manifests, name) && h.manifestFiles <= detectionFileCap {
				matched := false
				for _, dep := range fr.Dependencies {
					if strings.Contains(load(), dep) {
						h.dependencies[dep] = struct{}{}
						matched = true
					}
				}
				if matched {
					h.manifestFiles++
				}
			}
			if containsFold(fr.ConfigFiles, name) && h.configFiles <= detectionFileCap {
				h.configFiles++
			}
			if len(fr.CodeRegexps()) > 0 && containsFold(fr.CodeExtensions, ext) &&
				h.codeFiles <= detectionFileCap {
				for _, re := range fr.CodeRegexps() {
					if re.MatchString(load()) {
						h.codeFiles++
						break
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("framework walk: %w", err)
	}

	out := map[string][]string{}
	for i, fr := range frameworks {
		h := hits[i]
		var msgs []string
		if h.manifestFiles > 0 {
			deps := make([]string, 0, len(h.dependencies))
			for d := range h.dependencies {
				deps = append(deps, d)
			}
			sort.Strings(deps)
			msgs = append(msgs, fmt.Sprintf("In %s manifests found dependency %s (%s)",
				countLabel(h.manifestFiles), fr.Name, strings.Join(deps, ", ")))
		}
		if h.configFiles > 0 {
			msgs = append(msgs, fmt.Sprintf("Found %s config files for %s",
				countLabel(h.configFiles), fr.Name))
		}
		if h.codeFiles > 0 {
			msgs = append(msgs, fmt.Sprintf("In %s files found mention of %s",
				countLabel(h.codeFiles), fr.Name))
		}
		if len(msgs) > 0 {
			out[fr.Name] = msgs
		}
	}
	return out, nil
}

func countLabel(n int) string {
	if n > detectionFileCap {
		return "100+"
	}
	return strconv.Itoa(n)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
