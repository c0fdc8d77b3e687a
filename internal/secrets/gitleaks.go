package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Gitleaks scans with the gitleaks default rule set. It is safe for
// concurrent use.
type Gitleaks struct {
	config gitleaksConfig.Config
}

// NewGitleaks loads the gitleaks default configuration. Secrets matching an
// allow-list pattern are never reported.
func NewGitleaks(allowList []string) (*Gitleaks, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks config: %w", err)
	}
	cfg := d.Config
	if len(allowList) > 0 {
		al := &gitleaksConfig.Allowlist{Description: "autofix allow list"}
		for i, pattern := range allowList {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
			}
			al.Regexes = append(al.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		cfg.Allowlists = append(cfg.Allowlists, al)
	}
	return &Gitleaks{config: cfg}, nil
}

// Scan implements Scanner. Findings are ordered by position and never carry
// the matched value.
func (g *Gitleaks) Scan(content string) []Finding {
	if g == nil || content == "" {
		return nil
	}
	// A detector accumulates findings, so each scan gets its own.
	d := detect.NewDetector(g.config)
	var findings []Finding
	from := make(map[string]int)
	for _, f := range d.DetectString(content) {
		start := locate(content, f.Secret, from)
		if start < 0 {
			continue
		}
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        strings.Count(content[:start], "\n") + 1,
			start:       start,
			end:         start + len(f.Secret),
		})
	}
	sort.SliceStable(findings, func(i, j int) bool { return findings[i].start < findings[j].start })
	return findings
}

// Redact replaces every finding in s with the redaction marker.
func (g *Gitleaks) Redact(s string) string {
	return redact(s, g.Scan(s), DefaultRedaction)
}

// locate returns the offset of the next occurrence of secret, continuing
// after the previous occurrence of the same value, or -1.
func locate(content, secret string, from map[string]int) int {
	if secret == "" {
		return -1
	}
	off := from[secret]
	idx := strings.Index(content[off:], secret)
	if idx < 0 {
		idx = strings.Index(content, secret)
		if idx < 0 {
			return -1
		}
		off = 0
	}
	from[secret] = off + idx + len(secret)
	return off + idx
}
