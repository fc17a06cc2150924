// Package secrets redacts credentials from free text before it leaves the
// process. Findings carry the rule id and position but never the match.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultRedaction replaces every detected secret.
const DefaultRedaction = "[REDACTED]"

// Rule is one detection pattern. When Keywords is non-empty the rule only
// runs if one of them occurs in the text (case-insensitive).
type Rule struct {
	ID       string   `koanf:"id"`
	Pattern  string   `koanf:"pattern"`
	Keywords []string `koanf:"keywords"`
}

// Config configures a Scrubber.
type Config struct {
	Rules     []Rule   `koanf:"rules"`
	AllowList []string `koanf:"allow_list"`
	Redaction string   `koanf:"redaction"`
}

// DefaultConfig returns the built-in rule set.
func DefaultConfig() *Config {
	return &Config{Rules: DefaultRules(), Redaction: DefaultRedaction}
}

// Finding locates one redacted secret in the original text.
type Finding struct {
	RuleID string `json:"rule_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Result is the outcome of a Scrub.
type Result struct {
	Scrubbed string    `json:"scrubbed"`
	Findings []Finding `json:"findings,omitempty"`
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the distinct rule ids that matched, sorted.
func (r *Result) RuleIDs() []string {
	seen := make(map[string]bool, len(r.Findings))
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			ids = append(ids, f.RuleID)
		}
	}
	sort.Strings(ids)
	return ids
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []string
}

// Scrubber detects and redacts secrets. Safe for concurrent use.
type Scrubber struct {
	rules     []compiledRule
	allow     []*regexp.Regexp
	redaction string
}

// New compiles cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Scrubber{redaction: cfg.Redaction}
	if s.redaction == "" {
		s.redaction = DefaultRedaction
	}

	for i, r := range cfg.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		if r.Pattern == "" {
			return nil, fmt.Errorf("rule %s: pattern is required", r.ID)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		kws := make([]string, len(r.Keywords))
		for j, kw := range r.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, pattern: re, keywords: kws})
	}

	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: %w", i, err)
		}
		s.allow = append(s.allow, re)
	}
	return s, nil
}

// Scrub returns text with every detected secret replaced.
func (s *Scrubber) Scrub(text string) *Result {
	res := &Result{Scrubbed: text}
	lower := strings.ToLower(text)

	for _, rule := range s.rules {
		if !rule.applies(lower) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			res.Findings = append(res.Findings, Finding{RuleID: rule.id, Start: m[0], End: m[1]})
		}
	}
	if len(res.Findings) == 0 {
		return res
	}

	sort.Slice(res.Findings, func(i, j int) bool {
		return res.Findings[i].Start < res.Findings[j].Start
	})

	var b strings.Builder
	pos := 0
	for _, span := range mergeSpans(res.Findings) {
		b.WriteString(text[pos:span[0]])
		b.WriteString(s.redaction)
		pos = span[1]
	}
	b.WriteString(text[pos:])
	res.Scrubbed = b.String()
	return res
}

func (r compiledRule) applies(lower string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans collapses overlapping findings (sorted by Start) into
// disjoint [start, end) spans.
func mergeSpans(findings []Finding) [][2]int {
	spans := make([][2]int, 0, len(findings))
	for _, f := range findings {
		if n := len(spans); n > 0 && f.Start <= spans[n-1][1] {
			if f.End > spans[n-1][1] {
				spans[n-1][1] = f.End
			}
			continue
		}
		spans = append(spans, [2]int{f.Start, f.End})
	}
	return spans
}
