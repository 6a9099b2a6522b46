// Package secrets redacts credentials from workspace text before it is
// sent to a model provider.
//
// Detection combines the gitleaks default rule set with a small table of
// local rules. Local rules are regular expressions, optionally gated on
// keywords that must appear somewhere in the content. Overlapping matches
// are merged into one redaction. An allow list, from configuration and from
// a gitleaks-style TOML file, exempts matches such as test fixtures.
package secrets

import (
	"errors"
	"fmt"
	"regexp"
)

// DefaultRedaction replaces each detected secret.
const DefaultRedaction = "[REDACTED]"

// DefaultAllowListFile is read from the workspace root when present.
const DefaultAllowListFile = ".gitleaks.toml"

// Config configures the scrubber.
type Config struct {
	// Enabled turns scrubbing on. A disabled scrubber returns content
	// unchanged.
	Enabled bool `koanf:"enabled" json:"enabled"`

	// Redaction replaces each secret. Empty means DefaultRedaction.
	Redaction string `koanf:"redaction" json:"redaction"`

	// Gitleaks adds the gitleaks default rule set to the local rules.
	Gitleaks bool `koanf:"gitleaks" json:"gitleaks"`

	// AllowList holds patterns for matches that are not secrets.
	AllowList []string `koanf:"allow_list" json:"allow_list"`

	// AllowListFile is a TOML file with an [allowlist] regexes array. A
	// missing file is ignored.
	AllowListFile string `koanf:"allow_list_file" json:"allow_list_file"`

	// ExtraRules run after DefaultRules.
	ExtraRules []Rule `koanf:"extra_rules" json:"extra_rules"`
}

// Rule is one detection pattern.
type Rule struct {
	ID      string `koanf:"id" json:"id"`
	Pattern string `koanf:"pattern" json:"pattern"`

	// Keywords gate the rule: at least one must appear in the content,
	// case-insensitively. Empty means always apply.
	Keywords []string `koanf:"keywords" json:"keywords"`
}

// DefaultConfig enables scrubbing with the built-in rules.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Redaction:     DefaultRedaction,
		Gitleaks:      true,
		AllowListFile: DefaultAllowListFile,
	}
}

// Validate compiles every pattern and reports all failures. The allow list
// file is read by New.
func (c Config) Validate() error {
	_, _, err := c.compile()
	return err
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

func (c Config) compile() ([]compiledRule, []*regexp.Regexp, error) {
	var errs []error

	rules := append(DefaultRules(), c.ExtraRules...)
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("rule %d: id is required", i))
			continue
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil || r.Pattern == "" {
			errs = append(errs, fmt.Errorf("rule %s: invalid pattern %q", r.ID, r.Pattern))
			continue
		}
		cr := compiledRule{id: r.ID, pattern: re}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		compiled = append(compiled, cr)
	}

	allow := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("allow_list %d: %w", i, err))
			continue
		}
		allow = append(allow, re)
	}
	return compiled, allow, errors.Join(errs...)
}
