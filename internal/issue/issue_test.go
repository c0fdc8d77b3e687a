package issue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{in: "formatting", want: TypeFormatting},
		{in: " Type_Error ", want: TypeTypeError},
		{in: "DEAD_CODE", want: TypeDeadCode},
		{in: "spelling", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.Equal(t, 0, Severity("urgent").Rank())
}

func TestIssueLocation(t *testing.T) {
	assert.Equal(t, "", Issue{}.Location())
	assert.Equal(t, "a.py", Issue{FilePath: "a.py"}.Location())
	assert.Equal(t, "a.py:12", Issue{FilePath: "a.py", LineNumber: 12}.Location())
}

func TestFailedClampsConfidence(t *testing.T) {
	assert.Equal(t, 1.0, Failed(3).Confidence)
	assert.Equal(t, 0.0, Failed(-1).Confidence)
	assert.False(t, Failed(0.5, "still broken").Success)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml mapping", func(t *testing.T) {
		path := filepath.Join(dir, "issues.yaml")
		content := `issues:
  - id: fmt-1
    type: formatting
    severity: low
    message: trailing whitespace
    file_path: main.go
    line_number: 3
  - type: dead_code
    message: unused function
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		issues, err := LoadFile(path)
		require.NoError(t, err)
		require.Len(t, issues, 2)
		assert.Equal(t, "fmt-1", issues[0].ID)
		assert.Equal(t, 3, issues[0].LineNumber)
		assert.Equal(t, "issue-2", issues[1].ID)
		assert.Equal(t, SeverityMedium, issues[1].Severity)
	})

	t.Run("yaml list", func(t *testing.T) {
		path := filepath.Join(dir, "list.yml")
		content := "- id: a\n  type: security\n  severity: critical\n  message: hardcoded key\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		issues, err := LoadFile(path)
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, TypeSecurity, issues[0].Type)
	})

	t.Run("json list", func(t *testing.T) {
		path := filepath.Join(dir, "issues.json")
		content := `[{"id":"j1","type":"import_error","severity":"high","message":"missing import"}]`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		issues, err := LoadFile(path)
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, SeverityHigh, issues[0].Severity)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("- id: x\n  type: nonsense\n  message: m\n"), 0644))

		_, err := LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown type")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
		assert.Error(t, err)
	})
}
