// Package issue defines the detected-issue model shared by the fix engine.
//
// Issues are produced upstream by scanners and are read-only here. The
// engine answers each one with a FixOutcome per strategy attempt.
package issue

import (
	"fmt"
	"strings"
)

// Type identifies the kind of problem an issue describes. Strategies are
// registered per Type.
type Type string

const (
	TypeFormatting          Type = "formatting"
	TypeTypeError           Type = "type_error"
	TypeSecurity            Type = "security"
	TypeTestFailure         Type = "test_failure"
	TypeImportError         Type = "import_error"
	TypeComplexity          Type = "complexity"
	TypeDeadCode            Type = "dead_code"
	TypeDependency          Type = "dependency"
	TypeDRYViolation        Type = "dry_violation"
	TypePerformance         Type = "performance"
	TypeDocumentation       Type = "documentation"
	TypeTestOrganization    Type = "test_organization"
	TypeCoverageImprovement Type = "coverage_improvement"
	TypeRegexValidation     Type = "regex_validation"
	TypeSemanticContext     Type = "semantic_context"
)

// AllTypes returns every known issue type.
func AllTypes() []Type {
	return []Type{
		TypeFormatting, TypeTypeError, TypeSecurity, TypeTestFailure,
		TypeImportError, TypeComplexity, TypeDeadCode, TypeDependency,
		TypeDRYViolation, TypePerformance, TypeDocumentation,
		TypeTestOrganization, TypeCoverageImprovement, TypeRegexValidation,
		TypeSemanticContext,
	}
}

// Valid reports whether t is one of the known issue types.
func (t Type) Valid() bool {
	for _, known := range AllTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType converts a case-insensitive name into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown issue type %q", s)
	}
	return t, nil
}

// Severity ranks how urgent an issue is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities from 1 (low) to 4 (critical). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ParseSeverity converts a case-insensitive name into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Issue is a detected problem awaiting remediation.
type Issue struct {
	ID         string   `json:"id" yaml:"id"`
	Type       Type     `json:"type" yaml:"type"`
	Severity   Severity `json:"severity" yaml:"severity"`
	Message    string   `json:"message" yaml:"message"`
	FilePath   string   `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	LineNumber int      `json:"line_number,omitempty" yaml:"line_number,omitempty"`
	Stage      string   `json:"stage,omitempty" yaml:"stage,omitempty"`
}

// Location renders "path:line", "path" or "" depending on what is known.
func (i Issue) Location() string {
	switch {
	case i.FilePath == "":
		return ""
	case i.LineNumber > 0:
		return fmt.Sprintf("%s:%d", i.FilePath, i.LineNumber)
	default:
		return i.FilePath
	}
}

// Validate checks the enum fields of an issue.
func (i Issue) Validate() error {
	if !i.Type.Valid() {
		return fmt.Errorf("issue %q: unknown type %q", i.ID, i.Type)
	}
	if !i.Severity.Valid() {
		return fmt.Errorf("issue %q: unknown severity %q", i.ID, i.Severity)
	}
	if i.LineNumber < 0 {
		return fmt.Errorf("issue %q: negative line number %d", i.ID, i.LineNumber)
	}
	return nil
}

// FixOutcome is the result of one strategy attempt. It is never mutated
// after being returned.
type FixOutcome struct {
	Success         bool     `json:"success"`
	Confidence      float64  `json:"confidence"`
	FixesApplied    []string `json:"fixes_applied,omitempty"`
	RemainingIssues []string `json:"remaining_issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	FilesModified   []string `json:"files_modified,omitempty"`
}

// Failed builds an unsuccessful outcome carrying the given remaining issues.
func Failed(confidence float64, remaining ...string) *FixOutcome {
	return &FixOutcome{
		Success:         false,
		Confidence:      clamp(confidence),
		RemainingIssues: remaining,
	}
}

func clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
