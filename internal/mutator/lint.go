package mutator

import (
	"bytes"
	"context"
	"fmt"
	"go/format"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/autofix/internal/secrets"
)

// Linter produces advisory findings for written content. Findings are
// always reported as warnings and never fail a mutation.
type Linter interface {
	Name() string
	Lint(ctx context.Context, path string, before, after []byte) []ValidationIssue
}

func lintWarning(path string, line int, msg string, args ...any) ValidationIssue {
	return ValidationIssue{
		Severity:   SeverityWarning,
		Message:    fmt.Sprintf(msg, args...),
		FilePath:   path,
		LineNumber: line,
	}
}

// GofmtLinter warns when Go source is not gofmt-formatted.
type GofmtLinter struct{}

// Name implements Linter.
func (GofmtLinter) Name() string { return "gofmt" }

// Lint implements Linter.
func (GofmtLinter) Lint(_ context.Context, path string, _, after []byte) []ValidationIssue {
	if !strings.EqualFold(filepath.Ext(path), ".go") {
		return nil
	}
	formatted, err := format.Source(after)
	if err != nil || bytes.Equal(formatted, after) {
		return nil
	}
	return []ValidationIssue{lintWarning(path, 0, "file is not gofmt-formatted")}
}

// WhitespaceLinter warns about trailing whitespace.
type WhitespaceLinter struct{}

// Name implements Linter.
func (WhitespaceLinter) Name() string { return "whitespace" }

// Lint implements Linter.
func (WhitespaceLinter) Lint(_ context.Context, path string, _, after []byte) []ValidationIssue {
	first, count := 0, 0
	for i, line := range bytes.Split(after, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) > 0 && (line[len(line)-1] == ' ' || line[len(line)-1] == '\t') {
			if count == 0 {
				first = i + 1
			}
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return []ValidationIssue{lintWarning(path, first, "trailing whitespace on %d line(s)", count)}
}

// SecretLinter warns when the new content contains a credential that the
// previous content did not.
type SecretLinter struct {
	// Scanner defaults to secrets.Default().
	Scanner secrets.Scanner
}

// Name implements Linter.
func (SecretLinter) Name() string { return "secrets" }

// Lint implements Linter.
func (l SecretLinter) Lint(_ context.Context, path string, before, after []byte) []ValidationIssue {
	sc := l.Scanner
	if sc == nil {
		sc = secrets.Default()
	}
	var issues []ValidationIssue
	for _, f := range secrets.Introduced(sc, string(before), string(after)) {
		issues = append(issues, lintWarning(path, f.Line, "possible secret introduced: %s (%s)", f.Description, f.RuleID))
	}
	return issues
}

// CommandLinter runs an external lint command. "{path}" in Command is
// replaced with the quoted file path. A non-zero exit or a timeout yields a
// single warning carrying the tail of the output.
type CommandLinter struct {
	Command string
	Timeout time.Duration
	Runner  CommandRunner
}

// Name implements Linter.
func (l CommandLinter) Name() string { return "command" }

// Lint implements Linter.
func (l CommandLinter) Lint(ctx context.Context, path string, _, _ []byte) []ValidationIssue {
	if l.Command == "" {
		return nil
	}
	runner := l.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultLintTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := strings.ReplaceAll(l.Command, "{path}", shellQuote(path))
	stdout, stderr, code, err := runner.Run(ctx, filepath.Dir(path), cmd)
	if err != nil {
		return []ValidationIssue{lintWarning(path, 0, "lint command did not complete: %v", err)}
	}
	if code != 0 {
		out := strings.TrimSpace(stdout + "\n" + stderr)
		return []ValidationIssue{lintWarning(path, 0, "lint command exited with code %d: %s", code, tail(out, 10))}
	}
	return nil
}

// shellQuote quotes s for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// DefaultLinters returns the built-in linters plus a CommandLinter when
// command is non-empty. A nil scanner selects secrets.Default().
func DefaultLinters(scanner secrets.Scanner, command string, timeout time.Duration, runner CommandRunner) []Linter {
	linters := []Linter{GofmtLinter{}, WhitespaceLinter{}, SecretLinter{Scanner: scanner}}
	if command != "" {
		linters = append(linters, CommandLinter{Command: command, Timeout: timeout, Runner: runner})
	}
	return linters
}
