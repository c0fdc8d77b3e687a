package mutator

import (
	"bytes"
	"encoding/json"
	"errors"
	"go/parser"
	"go/scanner"
	"go/token"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Validation issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationIssue is a single problem found in written content.
type ValidationIssue struct {
	Severity   string `json:"severity" yaml:"severity"`
	Message    string `json:"message" yaml:"message"`
	FilePath   string `json:"file_path" yaml:"file_path"`
	LineNumber int    `json:"line_number,omitempty" yaml:"line_number,omitempty"`
}

// ValidationOutcome reports syntax errors and lint warnings. Success is
// false only when at least one error-severity issue exists.
type ValidationOutcome struct {
	Success bool              `json:"success" yaml:"success"`
	Issues  []ValidationIssue `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// Errors returns the error-severity issues.
func (v ValidationOutcome) Errors() []ValidationIssue {
	var out []ValidationIssue
	for _, is := range v.Issues {
		if is.Severity == SeverityError {
			out = append(out, is)
		}
	}
	return out
}

// Warnings returns the warning-severity issues.
func (v ValidationOutcome) Warnings() []ValidationIssue {
	var out []ValidationIssue
	for _, is := range v.Issues {
		if is.Severity == SeverityWarning {
			out = append(out, is)
		}
	}
	return out
}

// SyntaxValidator checks content for syntax errors. Returned issues are
// treated as errors regardless of their Severity field.
type SyntaxValidator interface {
	Validate(path string, content []byte) []ValidationIssue
}

// SyntaxValidatorFunc adapts a function to SyntaxValidator.
type SyntaxValidatorFunc func(path string, content []byte) []ValidationIssue

// Validate calls f.
func (f SyntaxValidatorFunc) Validate(path string, content []byte) []ValidationIssue {
	return f(path, content)
}

// Validators maps lower-case file extensions (with the leading dot) to
// syntax validators. Files with unregistered extensions always pass.
type Validators map[string]SyntaxValidator

// DefaultValidators returns validators for Go, JSON, YAML, TOML and Python.
// Python is parsed by python3 when it is on PATH.
func DefaultValidators() Validators {
	return Validators{
		".go":   SyntaxValidatorFunc(validateGo),
		".json": SyntaxValidatorFunc(validateJSON),
		".yaml": SyntaxValidatorFunc(validateYAML),
		".yml":  SyntaxValidatorFunc(validateYAML),
		".toml": SyntaxValidatorFunc(validateTOML),
		".py":   NewPythonValidator(ExecRunner{}),
	}
}

// Register sets the validator for ext, replacing any existing one.
func (v Validators) Register(ext string, sv SyntaxValidator) {
	v[strings.ToLower(ext)] = sv
}

// For returns the validator for path, if any.
func (v Validators) For(path string) (SyntaxValidator, bool) {
	sv, ok := v[strings.ToLower(filepath.Ext(path))]
	return sv, ok
}

// Check runs the validator registered for path and normalizes its issues
// to error severity.
func (v Validators) Check(path string, content []byte) []ValidationIssue {
	sv, ok := v.For(path)
	if !ok {
		return nil
	}
	issues := sv.Validate(path, content)
	for i := range issues {
		issues[i].Severity = SeverityError
		if issues[i].FilePath == "" {
			issues[i].FilePath = path
		}
	}
	return issues
}

func syntaxIssue(path string, line int, msg string) ValidationIssue {
	return ValidationIssue{Severity: SeverityError, Message: msg, FilePath: path, LineNumber: line}
}

func validateGo(path string, content []byte) []ValidationIssue {
	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, path, content, parser.AllErrors|parser.SkipObjectResolution)
	if err == nil {
		return nil
	}
	var list scanner.ErrorList
	if errors.As(err, &list) {
		issues := make([]ValidationIssue, 0, len(list))
		for _, e := range list {
			issues = append(issues, syntaxIssue(path, e.Pos.Line, e.Msg))
		}
		return issues
	}
	return []ValidationIssue{syntaxIssue(path, 0, err.Error())}
}

func validateJSON(path string, content []byte) []ValidationIssue {
	if json.Valid(content) {
		return nil
	}
	var v any
	err := json.Unmarshal(content, &v)
	if err == nil {
		return []ValidationIssue{syntaxIssue(path, 0, "invalid JSON")}
	}
	line := 0
	var serr *json.SyntaxError
	if errors.As(err, &serr) {
		line = lineAt(content, int(serr.Offset))
	}
	return []ValidationIssue{syntaxIssue(path, line, err.Error())}
}

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

func validateYAML(path string, content []byte) []ValidationIssue {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			line := 0
			if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
				line, _ = strconv.Atoi(m[1])
			}
			return []ValidationIssue{syntaxIssue(path, line, err.Error())}
		}
	}
}

func validateTOML(path string, content []byte) []ValidationIssue {
	var v map[string]any
	_, err := toml.Decode(string(content), &v)
	if err == nil {
		return nil
	}
	line := 0
	var perr toml.ParseError
	if errors.As(err, &perr) {
		line = perr.Position.Line
	}
	return []ValidationIssue{syntaxIssue(path, line, err.Error())}
}

// lineAt returns the 1-based line containing byte offset off.
func lineAt(content []byte, off int) int {
	if off > len(content) {
		off = len(content)
	}
	if off < 0 {
		off = 0
	}
	return bytes.Count(content[:off], []byte("\n")) + 1
}
