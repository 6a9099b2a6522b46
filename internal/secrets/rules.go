package secrets

// DefaultRules covers credentials that commonly end up in source trees.
// Self-identifying prefixes need no keywords.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`},
		{ID: "aws-access-key-id", Pattern: `\b(?:A3T[A-Z0-9]|AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}\b`},
		{
			ID:       "aws-secret-access-key",
			Pattern:  `(?i)(?:aws_secret_access_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
			Keywords: []string{"secret"},
		},
		{ID: "github-token", Pattern: `\b(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}\b`},
		{ID: "github-fine-grained", Pattern: `\bgithub_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Pattern: `\bglpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Pattern: `\bxox[abprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "stripe-key", Pattern: `\b(?:sk|rk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`},
		{ID: "anthropic-api-key", Pattern: `\bsk-ant-[A-Za-z0-9_\-]{32,}`},
		{ID: "openai-api-key", Pattern: `\bsk-(?:proj-)?[A-Za-z0-9_\-]{32,}`},
		{ID: "google-api-key", Pattern: `\bAIza[A-Za-z0-9_\-]{35}`},
		{ID: "npm-token", Pattern: `\bnpm_[A-Za-z0-9]{36}\b`},
		{ID: "jwt", Pattern: `\beyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+`},
		{
			ID:       "database-url",
			Pattern:  `(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:\s/]+:[^@\s]+@[^\s'"]+`,
			Keywords: []string{"://"},
		},
		{
			ID:       "generic-api-key",
			Pattern:  `(?i)\b(?:api[_-]?key|access[_-]?token|auth[_-]?token)\b['"]?\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}['"]?`,
			Keywords: []string{"key", "token"},
		},
		{
			ID:       "generic-password",
			Pattern:  `(?i)\b(?:password|passwd|secret)\b['"]?\s*[:=]\s*['"][^\s'"]{8,}['"]`,
			Keywords: []string{"pass", "secret"},
		},
	}
}
