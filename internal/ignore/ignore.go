// Package ignore matches file paths against gitignore-style pattern files.
//
// Issues whose file is ignored are dropped before a batch runs, so generated
// or vendored code is never rewritten.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileName is the ignore file read from the project root.
const FileName = ".autofixignore"

type rule struct {
	segments []string
	negate   bool
}

// Matcher reports whether paths under root are ignored.
// The last matching pattern wins; "!" patterns re-include a path.
type Matcher struct {
	root     string
	patterns []string
	rules    []rule
}

// New returns a matcher for root built from gitignore-style lines.
func New(root string, lines []string) (*Matcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve ignore root: %w", err)
	}
	m := &Matcher{root: abs}
	seen := make(map[string]bool)
	for _, line := range lines {
		p, negate := parseLine(line)
		if p == "" {
			continue
		}
		key := p
		if negate {
			key = "!" + p
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		m.patterns = append(m.patterns, key)
		m.rules = append(m.rules, rule{segments: strings.Split(p, "/"), negate: negate})
	}
	return m, nil
}

// Load reads the named ignore files from root. Missing files are skipped;
// with no names, FileName is read.
func Load(root string, names ...string) (*Matcher, error) {
	if len(names) == 0 {
		names = []string{FileName}
	}
	var lines []string
	for _, name := range names {
		fileLines, err := readLines(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		lines = append(lines, fileLines...)
	}
	return New(root, lines)
}

// Patterns returns the normalized patterns in file order.
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Match reports whether p is ignored. Relative paths are resolved against
// the matcher root; paths outside the root never match.
func (m *Matcher) Match(p string) bool {
	if m == nil || len(m.rules) == 0 || p == "" {
		return false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(m.root, p)
	}
	rel, err := filepath.Rel(m.root, filepath.Clean(p))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	segs := strings.Split(filepath.ToSlash(rel), "/")

	ignored := false
	for _, r := range m.rules {
		if matchSegments(r.segments, segs) {
			ignored = !r.negate
		}
	}
	return ignored
}

func readLines(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return lines, nil
}

// parseLine converts one ignore-file line to a slash-separated glob.
// Comments and blank lines yield "".
func parseLine(line string) (string, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	negate := strings.HasPrefix(line, "!")
	if negate {
		line = line[1:]
	}
	return toGlobPattern(line), negate
}

// toGlobPattern anchors patterns containing a slash to the root and lets
// the rest match at any depth.
func toGlobPattern(p string) string {
	p = strings.TrimSuffix(p, "/")
	anchored := strings.Contains(p, "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return ""
	}
	if !anchored && !strings.HasPrefix(p, "**") {
		p = "**/" + p
	}
	return p
}

// matchSegments matches pattern segments against path segments. A pattern
// that matches a directory also matches everything below it.
func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			pat = pat[1:]
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pat, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		ok, err := path.Match(pat[0], segs[0])
		if err != nil || !ok {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}
	return true
}
