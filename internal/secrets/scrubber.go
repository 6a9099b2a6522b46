package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Result is the outcome of one Scrub call. Secret values are never kept.
type Result struct {
	Text     string         `json:"-"`
	Findings int            `json:"findings"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// Scrubber redacts secrets. It is safe for concurrent use. A nil Scrubber
// returns content unchanged.
type Scrubber struct {
	enabled   bool
	redaction string
	rules     []compiledRule
	allow     []*regexp.Regexp

	mu       sync.Mutex
	detector *detect.Detector
}

// New compiles cfg and reads its allow list file.
func New(cfg Config) (*Scrubber, error) {
	if cfg.AllowListFile != "" {
		extra, err := LoadAllowList(cfg.AllowListFile)
		if err != nil {
			return nil, err
		}
		cfg.AllowList = append(append([]string(nil), cfg.AllowList...), extra...)
	}
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	redaction := cfg.Redaction
	if redaction == "" {
		redaction = DefaultRedaction
	}
	s := &Scrubber{enabled: cfg.Enabled, redaction: redaction, rules: rules, allow: allow}
	if cfg.Enabled && cfg.Gitleaks {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("gitleaks: %w", err)
		}
		s.detector = d
	}
	return s, nil
}

type span struct{ start, end int }

// Scrub replaces every secret in content.
func (s *Scrubber) Scrub(content string) Result {
	res := Result{Text: content}
	if s == nil || !s.enabled || content == "" {
		return res
	}

	var spans []span
	found := func(rule string, start, end int) {
		spans = append(spans, span{start, end})
		if res.ByRule == nil {
			res.ByRule = make(map[string]int)
		}
		res.ByRule[rule]++
		res.Findings++
	}
	for _, r := range s.rules {
		if !r.applies(content) {
			continue
		}
		for _, m := range r.pattern.FindAllStringIndex(content, -1) {
			if !s.allowed(content[m[0]:m[1]]) {
				found(r.id, m[0], m[1])
			}
		}
	}
	for _, f := range s.detect(content) {
		if f.secret == "" || s.allowed(f.secret) {
			continue
		}
		for _, start := range occurrences(content, f.secret) {
			found(f.rule, start, start+len(f.secret))
		}
	}
	if len(spans) == 0 {
		return res
	}

	var b strings.Builder
	b.Grow(len(content))
	prev := 0
	for _, sp := range merge(spans) {
		b.WriteString(content[prev:sp.start])
		b.WriteString(s.redaction)
		prev = sp.end
	}
	b.WriteString(content[prev:])
	res.Text = b.String()
	return res
}

type detection struct{ rule, secret string }

// detect runs the gitleaks rule set. Findings carry line and column
// positions; callers locate the secret value in content instead.
func (s *Scrubber) detect(content string) []detection {
	if s.detector == nil {
		return nil
	}
	s.mu.Lock()
	findings := s.detector.DetectString(content)
	s.mu.Unlock()

	seen := make(map[detection]bool, len(findings))
	out := make([]detection, 0, len(findings))
	for _, f := range findings {
		d := detection{rule: "gitleaks:" + f.RuleID, secret: f.Secret}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// occurrences returns the start offset of every occurrence of sub.
func occurrences(content, sub string) []int {
	var out []int
	for off := 0; ; {
		i := strings.Index(content[off:], sub)
		if i < 0 {
			return out
		}
		out = append(out, off+i)
		off += i + len(sub)
	}
}

func (r compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
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

// merge sorts spans and joins overlapping or touching ones.
func merge(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := spans[:1]
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if sp.start <= last.end {
			last.end = max(last.end, sp.end)
			continue
		}
		out = append(out, sp)
	}
	return out
}
