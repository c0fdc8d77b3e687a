package mutator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultPythonTimeout = 10 * time.Second

// pythonCheckScript parses the file named by argv[1] and prints the line
// and message of the first syntax error.
const pythonCheckScript = `import ast, sys
try:
    ast.parse(open(sys.argv[1], "rb").read(), sys.argv[1])
except (SyntaxError, ValueError) as e:
    print(getattr(e, "lineno", None) or 0)
    print(getattr(e, "msg", None) or e)
    sys.exit(1)`

// PythonValidator parses Python with the interpreter's ast module and falls
// back to the structural checker when no interpreter can be run.
type PythonValidator struct {
	Runner      CommandRunner
	Interpreter string
	Timeout     time.Duration
}

// NewPythonValidator returns a validator using python3 from PATH, if any.
func NewPythonValidator(runner CommandRunner) *PythonValidator {
	interp, _ := exec.LookPath("python3")
	return &PythonValidator{Runner: runner, Interpreter: interp, Timeout: defaultPythonTimeout}
}

// Validate implements SyntaxValidator.
func (v *PythonValidator) Validate(path string, content []byte) []ValidationIssue {
	if v.Interpreter != "" && v.Runner != nil {
		if issues, ok := v.parse(path, content); ok {
			return issues
		}
	}
	return validatePython(path, content)
}

// parse runs ast.parse on a copy of content. ok is false when the
// interpreter could not give a verdict.
func (v *PythonValidator) parse(path string, content []byte) (issues []ValidationIssue, ok bool) {
	f, err := os.CreateTemp("", "autofix-*.py")
	if err != nil {
		return nil, false
	}
	defer os.Remove(f.Name())
	_, werr := f.Write(content)
	if cerr := f.Close(); werr != nil || cerr != nil {
		return nil, false
	}

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = defaultPythonTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := shellQuote(v.Interpreter) + " -c " + shellQuote(pythonCheckScript) + " " + shellQuote(f.Name())
	stdout, _, code, err := v.Runner.Run(ctx, filepath.Dir(f.Name()), cmd)
	switch {
	case err != nil:
		return nil, false
	case code == 0:
		return nil, true
	case code != 1:
		return nil, false
	}
	lineText, msg, _ := strings.Cut(strings.TrimSpace(stdout), "\n")
	line, err := strconv.Atoi(strings.TrimSpace(lineText))
	if err != nil {
		return nil, false
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "invalid syntax"
	}
	return []ValidationIssue{syntaxIssue(path, line, msg)}, true
}

// blockKeywords start compound statements whose header must contain a
// top-level colon.
var blockKeywords = map[string]bool{
	"def": true, "class": true, "if": true, "elif": true, "else": true,
	"for": true, "while": true, "try": true, "except": true, "finally": true,
	"with": true,
}

var closerFor = map[byte]byte{')': '(', ']': '[', '}': '{'}

// pythonOperators lists operator tokens, longest first.
var pythonOperators = []string{
	"**=", "//=", ">>=", "<<=",
	"->", ":=", "==", "!=", "<=", ">=", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "@=",
	"**", "//", "<<", ">>",
	"=", "<", ">", "/", "%", "|", "&", "^", "@", "+", "-", "*", "~",
}

const operatorChars = "=<>!/%|&^@+-*~"

// prefixOperators can also start an operand.
var prefixOperators = map[string]bool{"+": true, "-": true, "*": true, "**": true, "~": true}

func matchOperator(s string) string {
	for _, op := range pythonOperators {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return ""
}

type openBracket struct {
	ch   byte
	line int
}

// validatePython is a structural checker, not a parser. It reports
// unbalanced brackets, unterminated strings, block headers without a colon
// or body, inconsistent indentation and binary operators missing an
// operand, which covers the syntax errors a text substitution typically
// introduces.
func validatePython(path string, content []byte) []ValidationIssue {
	src := string(content)
	var (
		issues []ValidationIssue
		stack  []openBracket
		line   = 1

		logical      strings.Builder
		logicalStart = 1
		topColon     bool
		endsColon    bool
		prevOp       bool
		tokens       int

		indents     = []int{0}
		indent      int
		atLineStart = true
		expectBlock bool
		headerLine  int
	)

	endLogical := func() {
		code := strings.TrimSpace(logical.String())
		if code != "" {
			kw := firstWord(code)
			if kw == "async" {
				kw = firstWord(strings.TrimSpace(code[len("async"):]))
			}
			if blockKeywords[kw] && !topColon {
				issues = append(issues, syntaxIssue(path, logicalStart,
					fmt.Sprintf("expected ':' at end of %q statement", kw)))
			}
			if endsColon {
				expectBlock = true
				headerLine = logicalStart
			}
		}
		logical.Reset()
		topColon = false
		endsColon = false
		prevOp = false
		tokens = 0
		logicalStart = line
	}

	// beginLogical checks the indentation of a logical line against the
	// enclosing blocks.
	beginLogical := func() bool {
		top := indents[len(indents)-1]
		switch {
		case expectBlock:
			expectBlock = false
			if indent <= top {
				issues = append(issues, syntaxIssue(path, line,
					fmt.Sprintf("expected an indented block after line %d", headerLine)))
				return false
			}
			indents = append(indents, indent)
		case indent > top:
			issues = append(issues, syntaxIssue(path, line, "unexpected indent"))
			return false
		case indent < top:
			for len(indents) > 1 && indents[len(indents)-1] > indent {
				indents = indents[:len(indents)-1]
			}
			if indents[len(indents)-1] != indent {
				issues = append(issues, syntaxIssue(path, line, "unindent does not match any outer indentation level"))
				return false
			}
		}
		return true
	}

	significant := func() {
		tokens++
		prevOp = false
		endsColon = false
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		if atLineStart {
			switch c {
			case ' ':
				indent++
				continue
			case '\t':
				indent = (indent/8 + 1) * 8
				continue
			case '\f':
				indent = 0
				continue
			case '\r':
				continue
			case '\n', '#':
			default:
				atLineStart = false
				if !beginLogical() {
					return issues
				}
			}
		}

		switch {
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			i--
		case c == '\'' || c == '"':
			n, lines, ok := scanPythonString(src[i:])
			if !ok {
				if n >= 3 && strings.HasPrefix(src[i:], strings.Repeat(string(c), 3)) {
					issues = append(issues, syntaxIssue(path, line, "unterminated triple-quoted string"))
				} else {
					issues = append(issues, syntaxIssue(path, line, "unterminated string literal"))
				}
				return issues
			}
			logical.WriteString("''")
			significant()
			line += lines
			i += n - 1
		case c == '\\' && i+1 < len(src) && src[i+1] == '\n':
			line++
			i++
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, openBracket{ch: c, line: line})
			logical.WriteByte(c)
			significant()
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 {
				issues = append(issues, syntaxIssue(path, line, fmt.Sprintf("unmatched '%c'", c)))
				return issues
			}
			top := stack[len(stack)-1]
			if top.ch != closerFor[c] {
				issues = append(issues, syntaxIssue(path, line,
					fmt.Sprintf("closing '%c' does not match opening '%c' on line %d", c, top.ch, top.line)))
				return issues
			}
			stack = stack[:len(stack)-1]
			logical.WriteByte(c)
			significant()
		case strings.IndexByte(operatorChars, c) >= 0 || c == ':' && i+1 < len(src) && src[i+1] == '=':
			op := matchOperator(src[i:])
			if op == "" {
				issues = append(issues, syntaxIssue(path, line, fmt.Sprintf("invalid character '%c'", c)))
				return issues
			}
			decorator := op == "@" && tokens == 0
			if !prefixOperators[op] && !decorator && (prevOp || tokens == 0) {
				issues = append(issues, syntaxIssue(path, line, fmt.Sprintf("invalid syntax near '%s'", op)))
				return issues
			}
			logical.WriteString(op)
			i += len(op) - 1
			significant()
			prevOp = !decorator
		case c == ':':
			logical.WriteByte(c)
			significant()
			if len(stack) == 0 {
				topColon = true
				endsColon = true
			}
		case c == '\n':
			line++
			if len(stack) == 0 {
				endLogical()
				atLineStart = true
				indent = 0
			} else {
				logical.WriteByte(' ')
			}
		case c == ' ' || c == '\t' || c == '\r' || c == '\f':
			logical.WriteByte(c)
		default:
			logical.WriteByte(c)
			significant()
		}
	}

	if len(stack) > 0 {
		top := stack[len(stack)-1]
		issues = append(issues, syntaxIssue(path, top.line, fmt.Sprintf("'%c' was never closed", top.ch)))
		return issues
	}
	endLogical()
	if expectBlock {
		issues = append(issues, syntaxIssue(path, line,
			fmt.Sprintf("expected an indented block after line %d", headerLine)))
	}
	return issues
}

// scanPythonString scans the string literal at the start of s. It returns
// the literal's length, the number of newlines it spans and whether it is
// terminated.
func scanPythonString(s string) (n int, lines int, ok bool) {
	q := s[0]
	triple := strings.Repeat(string(q), 3)
	if strings.HasPrefix(s, triple) {
		for i := 3; i < len(s); i++ {
			switch {
			case s[i] == '\\':
				if i+1 < len(s) && s[i+1] == '\n' {
					lines++
				}
				i++
			case s[i] == '\n':
				lines++
			case strings.HasPrefix(s[i:], triple):
				return i + 3, lines, true
			}
		}
		return len(s), lines, false
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) && s[i+1] == '\n' {
				lines++
			}
			i++
		case '\n':
			return i, lines, false
		case q:
			return i + 1, lines, true
		}
	}
	return len(s), lines, false
}

func firstWord(s string) string {
	end := 0
	for end < len(s) {
		c := s[end]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			end++
			continue
		}
		break
	}
	return s[:end]
}
