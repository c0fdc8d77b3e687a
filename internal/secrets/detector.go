package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultRedaction replaces detected secrets in Redact.
const DefaultRedaction = "[REDACTED]"

// Finding is a detected secret. The matched value is deliberately not kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	start, end  int
}

// Detector matches content against a compiled rule set. It is safe for
// concurrent use.
type Detector struct {
	rules     []compiledRule
	allow     []*regexp.Regexp
	redaction string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []string
}

// NewDetector compiles rules and allow-list patterns. A match of any
// allow-list pattern is never reported.
func NewDetector(rules []Rule, allowList []string) (*Detector, error) {
	d := &Detector{redaction: DefaultRedaction}
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: ID is required", i)
		}
		p, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kws = append(kws, strings.ToLower(kw))
		}
		d.rules = append(d.rules, compiledRule{Rule: r, pattern: p, keywords: kws})
	}
	for i, a := range allowList {
		p, err := regexp.Compile(a)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		d.allow = append(d.allow, p)
	}
	return d, nil
}

// Default returns a detector with DefaultRules and no allow list.
func Default() *Detector {
	d, err := NewDetector(DefaultRules(), nil)
	if err != nil {
		panic(err)
	}
	return d
}

// Scan returns every finding in content ordered by position.
func (d *Detector) Scan(content string) []Finding {
	if d == nil || content == "" {
		return nil
	}
	lower := ""
	var findings []Finding
	for _, r := range d.rules {
		if len(r.keywords) > 0 {
			if lower == "" {
				lower = strings.ToLower(content)
			}
			if !containsAny(lower, r.keywords) {
				continue
			}
		}
		for _, m := range r.pattern.FindAllStringIndex(content, -1) {
			if d.allowed(content[m[0]:m[1]]) {
				continue
			}
			findings = append(findings, Finding{
				RuleID:      r.ID,
				Description: r.Description,
				Line:        strings.Count(content[:m[0]], "\n") + 1,
				start:       m[0],
				end:         m[1],
			})
		}
	}
	sort.SliceStable(findings, func(i, j int) bool { return findings[i].start < findings[j].start })
	return findings
}

// Scanner finds secrets in content.
type Scanner interface {
	Scan(content string) []Finding
}

// Introduced returns the findings of after for rules that match more often
// in after than in before.
func (d *Detector) Introduced(before, after string) []Finding {
	return Introduced(d, before, after)
}

// Introduced returns the findings s reports for after beyond those it
// reports for before, counted per rule.
func Introduced(s Scanner, before, after string) []Finding {
	prev := make(map[string]int)
	for _, f := range s.Scan(before) {
		prev[f.RuleID]++
	}
	var out []Finding
	for _, f := range s.Scan(after) {
		if prev[f.RuleID] > 0 {
			prev[f.RuleID]--
			continue
		}
		out = append(out, f)
	}
	return out
}

// Redact replaces every finding in s with the redaction marker.
func (d *Detector) Redact(s string) string {
	return redact(s, d.Scan(s), d.redaction)
}

// redact replaces the ordered findings of s with marker.
func redact(s string, findings []Finding, marker string) string {
	if len(findings) == 0 {
		return s
	}
	var b strings.Builder
	pos := 0
	for _, f := range findings {
		if f.start < pos {
			// Overlaps the previous redaction.
			if f.end > pos {
				pos = f.end
			}
			continue
		}
		b.WriteString(s[pos:f.start])
		b.WriteString(marker)
		pos = f.end
	}
	b.WriteString(s[pos:])
	return b.String()
}

func (d *Detector) allowed(match string) bool {
	for _, p := range d.allow {
		if p.MatchString(match) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
