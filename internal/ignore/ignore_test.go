package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
		negate   bool
	}{
		{"empty line", "", "", false},
		{"whitespace only", "   ", "", false},
		{"comment", "# this is a comment", "", false},
		{"negation", "!keep.go", "**/keep.go", true},
		{"simple file glob", "*.pb.go", "**/*.pb.go", false},
		{"simple directory", "vendor", "**/vendor", false},
		{"directory with slash", "vendor/", "**/vendor", false},
		{"nested path", "internal/gen", "internal/gen", false},
		{"absolute path", "/dist", "dist", false},
		{"double star pattern", "**/testdata", "**/testdata", false},
		{"trailing whitespace", "*.log  ", "**/*.log", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, negate := parseLine(tt.line)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.negate, negate)
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	root := t.TempDir()
	m, err := New(root, []string{
		"vendor/",
		"*.pb.go",
		"/internal/gen",
		"!internal/gen/keep.go",
		"docs/**/*.md",
	})
	require.NoError(t, err)

	tests := []struct {
		path    string
		ignored bool
	}{
		{"vendor/github.com/x/y.go", true},
		{"pkg/vendor/z.go", true},
		{"api/v1/service.pb.go", true},
		{"api/v1/service.go", false},
		{"internal/gen/models.go", true},
		{"internal/gen/keep.go", false},
		{"pkg/internal/gen/models.go", false},
		{"docs/a/b/readme.md", true},
		{"docs/readme.md", true},
		{"main.go", false},
		{filepath.Join(root, "vendor", "abs.go"), true},
		{filepath.Join(filepath.Dir(root), "vendor", "outside.go"), false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.ignored, m.Match(tt.path))
		})
	}
}

func TestMatcher_Empty(t *testing.T) {
	var nilMatcher *Matcher
	assert.False(t, nilMatcher.Match("a.go"))

	m, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	assert.False(t, m.Match("vendor/a.go"))
	assert.Empty(t, m.Patterns())
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	content := "# generated code\nvendor/\n*.pb.go\n\n*.pb.go\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(content), 0o644))

	m, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"**/vendor", "**/*.pb.go"}, m.Patterns())
	assert.True(t, m.Match("vendor/a.go"))
}

func TestLoad_MissingFiles(t *testing.T) {
	root := t.TempDir()

	m, err := Load(root, ".missing", FileName)
	require.NoError(t, err)
	assert.Empty(t, m.Patterns())
	assert.False(t, m.Match("anything.go"))
}

func TestLoad_MultipleFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("dist/\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("!dist/keep.go\n"), 0o644))

	m, err := Load(root, ".gitignore", FileName)
	require.NoError(t, err)
	assert.True(t, m.Match("dist/bundle.go"))
	assert.False(t, m.Match("dist/keep.go"))
}
