package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func fullSettings(t *testing.T, rulesYAML string) string {
	t.Helper()
	return writeDir(t, map[string]string{
		RulesFile:              rulesYAML,
		ExcludedFilesFile:      "excluded_files:\n  - package-lock.json\n  - Thumbs.db\n",
		ExcludedExtensionsFile: "excluded_extensions:\n  - .png\n  - tar.gz\n",
		FalsePositivesFile:     "false_positive:\n  - Example_Password\n  - '  changeme  '\n",
	})
}

func TestLoadDropsInvalidPatterns(t *testing.T) {
	dir := fullSettings(t, `
- id: OK1
  message: Password
  pattern: 'password'
  severity: High
- id: BAD
  message: Broken
  pattern: '[unclosed'
  severity: High
- id: OK2
  message: Token
  pattern: 'token'
  severity: High
`)
	c, err := Load(dir)
	require.NoError(t, err, "one bad rule must not fail the load")
	require.Len(t, c.Rules(), 2)
	assert.Equal(t, "OK1", c.Rules()[0].ID)
	assert.Equal(t, "OK2", c.Rules()[1].ID)
}

func TestLoadFailsWithoutRulesFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestExcluded(t *testing.T) {
	c, err := Load(fullSettings(t, "[]\n"))
	require.NoError(t, err)

	assert.True(t, c.Excluded("package-lock.json"))
	assert.True(t, c.Excluded("PACKAGE-LOCK.JSON"), "name match is case-insensitive")
	assert.True(t, c.Excluded("thumbs.db"))
	assert.True(t, c.Excluded("logo.png"))
	assert.True(t, c.Excluded("backup.tar.gz"), "the longest trailing extension is matched")
	assert.False(t, c.Excluded("main.go"))
	assert.False(t, c.Excluded("README"))
}

func TestIsFalsePositive(t *testing.T) {
	c, err := Load(fullSettings(t, "[]\n"))
	require.NoError(t, err)

	assert.True(t, c.IsFalsePositive(`password = "EXAMPLE_PASSWORD"`))
	assert.True(t, c.IsFalsePositive("pwd := CHANGEME"), "entries are trimmed before matching")
	assert.False(t, c.IsFalsePositive(`password = "hunter2"`))
}

func TestLongestExt(t *testing.T) {
	cases := map[string]string{
		"archive.tar.gz": ".tar.gz",
		"app.MIN.JS":     ".min.js",
		".env":           ".env",
		"README":         "",
		"main.go":        ".go",
	}
	for in, want := range cases {
		assert.Equal(t, want, LongestExt(in), "LongestExt(%q)", in)
	}
}

func TestRuleMatchReturnsFirstMatch(t *testing.T) {
	dir := fullSettings(t, `
- id: R1
  message: Token
  pattern: 'tok_[0-9]+'
  severity: High
`)
	c, err := Load(dir)
	require.NoError(t, err)
	r := c.Rules()[0]
	assert.Equal(t, "tok_111", r.Match("a tok_111 then tok_222"))
	assert.Empty(t, r.Match("nothing here"))
}

func TestLoadFrameworksMissingFile(t *testing.T) {
	frameworks, err := LoadFrameworks(t.TempDir())
	require.NoError(t, err, "missing frameworks file disables detection without failing startup")
	assert.Nil(t, frameworks)
}

func TestLoadFrameworksDropsBadPatterns(t *testing.T) {
	dir := writeDir(t, map[string]string{
		FrameworksFile: `
frameworks:
  - name: Django
    code_patterns: ['from django', '[bad']
    code_extensions: [.py]
`,
	})
	frameworks, err := LoadFrameworks(dir)
	require.NoError(t, err)
	require.Len(t, frameworks, 1)
	assert.Len(t, frameworks[0].CodeRegexps(), 1)
}
