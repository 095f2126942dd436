package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secrethound/secrethound/internal/rules"
	"github.com/secrethound/secrethound/models"
)

func testCatalog(t *testing.T) *rules.Catalog {
	t.Helper()
	dir := t.TempDir()
	writeSettings(t, dir, map[string]string{
		rules.RulesFile: `
- id: R001
  message: Password
  pattern: 'password\s*=\s*"[^"]+"'
  severity: High
- id: R002
  message: Generic Token
  pattern: 'token_[a-z0-9]{8,}'
  severity: High
`,
		rules.ExcludedFilesFile:      "excluded_files:\n  - package-lock.json\n",
		rules.ExcludedExtensionsFile: "excluded_extensions:\n  - .png\n  - .jpg\n",
		rules.FalsePositivesFile:     "false_positive:\n  - example_password\n",
	})
	catalog, err := rules.Load(dir)
	require.NoError(t, err)
	return catalog
}

func writeSettings(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestScanDirFindsPassword(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"config.env": `password = "hunter2!@#"` + "\n",
	})
	s := New(testCatalog(t))

	res, err := s.ScanDir(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)

	f := res.Findings[0]
	assert.Equal(t, "/config.env", f.Path)
	assert.Equal(t, 1, f.Line)
	assert.Equal(t, "Password", f.Type)
	assert.Equal(t, `password = "hunter2!@#"`, f.Secret)
	assert.Equal(t, `password = "hunter2!@#"`, f.Context)
	assert.Empty(t, f.Severity, "severity is assigned by the classifier")
	assert.Equal(t, 1, res.FilesScanned)
}

func TestScanDirFirstRuleWins(t *testing.T) {
	// The line matches both rules; only the Password rule (first in
	// catalog order) may produce a finding.
	root := writeRepo(t, map[string]string{
		"app.cfg": `password = "token_abcdef1234"` + "\n",
	})
	s := New(testCatalog(t))

	res, err := s.ScanDir(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "Password", res.Findings[0].Type)
}

func TestScanDirFalsePositiveSuppressed(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"doc.txt": `password = "EXAMPLE_PASSWORD"` + "\n",
	})
	s := New(testCatalog(t))

	res, err := s.ScanDir(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Equal(t, 1, res.FilesScanned)
}

func TestScanDirExclusions(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"package-lock.json": `password = "abc"`,
		"logo.png":          `password = "abc"`,
		"ok.txt":            "nothing here\n",
	})
	s := New(testCatalog(t))

	res, err := s.ScanDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesScanned)
	assert.Equal(t, 2, res.FilesExcluded)
	assert.Empty(t, res.Findings)
}

func TestScanDirTooManySecrets(t *testing.T) {
	var b strings.Builder
	for i := 0; i < MaxSecretsPerFile+1; i++ {
		b.WriteString(`password = "secret-value"` + "\n")
	}
	root := writeRepo(t, map[string]string{"dump.env": b.String()})
	s := New(testCatalog(t))

	res, err := s.ScanDir(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1, "the 51 matches must collapse into one sentinel")

	f := res.Findings[0]
	assert.Equal(t, models.TypeTooManySecrets, f.Type)
	assert.Equal(t, models.SeverityHigh, f.Severity)
	assert.Equal(t, 1.0, f.Confidence)
	assert.Equal(t, 0, f.Line)
	assert.Contains(t, f.Secret, "найдено 51 секретов")
	assert.Contains(t, f.Secret, "MD5 всех находок:")
	assert.Contains(t, f.Context, "Найдено 51 секретов")
}

func TestScanDirTooLongLine(t *testing.T) {
	line := `password = "` + strings.Repeat("x", 20000) + `"`
	root := writeRepo(t, map[string]string{"big.env": line + "\n"})
	s := New(testCatalog(t))

	res, err := s.ScanDir(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1, "no token-level finding for a skipped line")

	f := res.Findings[0]
	assert.Equal(t, models.TypeTooLongLine, f.Type)
	assert.Equal(t, models.SeverityPotential, f.Severity)
	assert.Equal(t, 1, f.Line)
	assert.Contains(t, f.Secret, "СТРОКА НЕ СКАНИРОВАЛАСЬ")
	assert.Contains(t, f.Secret, "MD5 строки:")
	assert.Equal(t, 1, res.SkippedPatterns)
}

func TestScanDirPathsNormalised(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"src/deep/creds.txt": `password = "deep-secret"` + "\n",
	})
	s := New(testCatalog(t))

	res, err := s.ScanDir(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, "/src/deep/creds.txt", f.Path)
	assert.NotContains(t, f.Path, root)
	assert.NotContains(t, f.Path, `\`)
}

func TestScanDirProgressCadence(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 20; i++ {
		files[filepath.Join("f", strings.Repeat("a", i+1)+".txt")] = "clean\n"
	}
	root := writeRepo(t, files)

	s := New(testCatalog(t))
	var calls []int
	s.Progress = func(n int) { calls = append(calls, n) }

	_, err := s.ScanDir(context.Background(), root)
	require.NoError(t, err)
	// 20 files, step 2: a call at every even count. Calls are serialized
	// under the result lock, so the unsynchronized slice append is safe and
	// the counts arrive strictly in order.
	assert.Equal(t, []int{2, 4, 6, 8, 10, 12, 14, 16, 18, 20}, calls)
}

func TestDetectLanguages(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"main.go":     "package main\n",
		"util.go":     "package main\n",
		"script.py":   "print()\n",
		"notes.weird": "?\n",
	})

	langs, err := DetectLanguages(root)
	require.NoError(t, err)

	assert.Equal(t, 2, langs["Go"].Files)
	assert.Equal(t, []string{".go"}, langs["Go"].Extensions)
	assert.Equal(t, 1, langs["Python"].Files)
	assert.Equal(t, 1, langs["Other"].Files)
}

func TestDetectFrameworks(t *testing.T) {
	settings := t.TempDir()
	writeSettings(t, settings, map[string]string{
		rules.FrameworksFile: `
frameworks:
  - name: Django
    manifests: [requirements.txt]
    dependencies: [django, djangorestframework]
    config_files: [manage.py]
    code_patterns: ['from django']
    code_extensions: [.py]
`,
	})
	frameworks, err := rules.LoadFrameworks(settings)
	require.NoError(t, err)
	require.Len(t, frameworks, 1)

	root := writeRepo(t, map[string]string{
		"requirements.txt": "django==4.2\ndjangorestframework==3.15\n",
		"manage.py":        "#!/usr/bin/env python\n",
		"app/views.py":     "from django.http import HttpResponse\n",
	})

	out, err := DetectFrameworks(root, frameworks)
	require.NoError(t, err)
	require.Contains(t, out, "Django")

	msgs := strings.Join(out["Django"], "\n")
	assert.Contains(t, msgs, "In 1 manifests found dependency Django (django, djangorestframework)")
	assert.Contains(t, msgs, "Found 1 config files for Django")
	assert.Contains(t, msgs, "In 1 files found mention of Django")
}

func TestDetectFrameworksNoRules(t *testing.T) {
	out, err := DetectFrameworks(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCountLabel(t *testing.T) {
	assert.Equal(t, "3", countLabel(3))
	assert.Equal(t, "100", countLabel(100))
	assert.Equal(t, "100+", countLabel(101))
}
