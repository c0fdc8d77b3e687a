package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/autofix/internal/issue"
	"github.com/fyrsmithlabs/autofix/internal/mutator"
	"go.uber.org/zap"
)

var errNoMutator = errors.New("strategy requires a mutator")

const (
	gofmtConfidence      = 0.95
	whitespaceConfidence = 0.8
)

// Gofmt reformats Go source with go/format.
type Gofmt struct {
	mutator *mutator.Mutator
	smoke   string
	logger  *zap.Logger
}

// NewGofmt is the Factory for Gofmt.
func NewGofmt(d Deps) (Strategy, error) {
	if d.Mutator == nil {
		return nil, errNoMutator
	}
	return &Gofmt{mutator: d.Mutator, smoke: d.SmokeTestCommand, logger: orNop(d.Logger)}, nil
}

// Name implements Strategy.
func (g *Gofmt) Name() string { return "gofmt" }

// Confidence implements Strategy.
func (g *Gofmt) Confidence(_ context.Context, is issue.Issue) float64 {
	if !strings.EqualFold(filepath.Ext(is.FilePath), ".go") {
		return 0
	}
	return gofmtConfidence
}

// Apply implements Strategy.
func (g *Gofmt) Apply(ctx context.Context, is issue.Issue) (*issue.FixOutcome, error) {
	src, err := os.ReadFile(is.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", is.FilePath, err)
	}
	formatted, err := format.Source(src)
	if err != nil {
		return nil, fmt.Errorf("gofmt %s: %w", is.FilePath, err)
	}
	if bytes.Equal(src, formatted) {
		g.logger.Debug("file already formatted", zap.String("path", is.FilePath), zap.String("issue", is.ID))
		return &issue.FixOutcome{
			Success:      true,
			Confidence:   gofmtConfidence,
			FixesApplied: []string{"already gofmt-formatted"},
		}, nil
	}
	return mutate(ctx, g.mutator, is, format.Source, g.Name(), gofmtConfidence, g.smoke), nil
}

// Whitespace strips trailing whitespace and normalizes the final newline.
type Whitespace struct {
	mutator *mutator.Mutator
	smoke   string
	logger  *zap.Logger
}

// NewWhitespace is the Factory for Whitespace.
func NewWhitespace(d Deps) (Strategy, error) {
	if d.Mutator == nil {
		return nil, errNoMutator
	}
	return &Whitespace{mutator: d.Mutator, smoke: d.SmokeTestCommand, logger: orNop(d.Logger)}, nil
}

// Name implements Strategy.
func (w *Whitespace) Name() string { return "whitespace" }

// Confidence implements Strategy. Markdown is excluded because trailing
// spaces there are a hard line break.
func (w *Whitespace) Confidence(_ context.Context, is issue.Issue) float64 {
	if is.FilePath == "" {
		return 0
	}
	switch strings.ToLower(filepath.Ext(is.FilePath)) {
	case ".md", ".markdown":
		return 0
	}
	return whitespaceConfidence
}

// Apply implements Strategy.
func (w *Whitespace) Apply(ctx context.Context, is issue.Issue) (*issue.FixOutcome, error) {
	src, err := os.ReadFile(is.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", is.FilePath, err)
	}
	cleaned := TrimWhitespace(src)
	if bytes.Equal(src, cleaned) {
		w.logger.Debug("no trailing whitespace", zap.String("path", is.FilePath), zap.String("issue", is.ID))
		return &issue.FixOutcome{
			Success:      true,
			Confidence:   whitespaceConfidence,
			FixesApplied: []string{"no trailing whitespace"},
		}, nil
	}
	return mutate(ctx, w.mutator, is, func(current []byte) ([]byte, error) {
		return TrimWhitespace(current), nil
	}, w.Name(), whitespaceConfidence, w.smoke), nil
}

// TrimWhitespace removes trailing spaces and tabs from every line, drops
// trailing blank lines and ends non-empty content with exactly one newline.
// CRLF line endings are preserved.
func TrimWhitespace(src []byte) []byte {
	if len(src) == 0 {
		return src
	}
	lines := bytes.Split(src, []byte("\n"))
	for i, line := range lines {
		cr := bytes.HasSuffix(line, []byte("\r"))
		line = bytes.TrimRight(bytes.TrimSuffix(line, []byte("\r")), " \t")
		if cr {
			line = append(line, '\r')
		}
		lines[i] = line
	}
	for len(lines) > 0 {
		last := bytes.TrimSuffix(lines[len(lines)-1], []byte("\r"))
		if len(last) > 0 {
			break
		}
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return []byte{}
	}
	return append(bytes.Join(lines, []byte("\n")), '\n')
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// mutate rewrites the file through the mutator and converts the result.
// derive runs on the content read under the path lock, so a concurrent
// writer's changes are not overwritten.
func mutate(ctx context.Context, m *mutator.Mutator, is issue.Issue, derive func([]byte) ([]byte, error), name string, confidence float64, smoke string) *issue.FixOutcome {
	res := m.ApplyFunc(ctx, is.FilePath, derive, fmt.Sprintf("%s: %s", name, is.ID), smoke)
	if !res.Success {
		out := issue.Failed(confidence, res.Message)
		out.Recommendations = append(out.Recommendations, "review the file manually; the change was not kept")
		return out
	}
	out := &issue.FixOutcome{
		Success:       true,
		Confidence:    confidence,
		FixesApplied:  []string{name},
		FilesModified: []string{res.Path},
	}
	for _, w := range res.Validation.Warnings() {
		out.RemainingIssues = append(out.RemainingIssues, w.Message)
	}
	return out
}
