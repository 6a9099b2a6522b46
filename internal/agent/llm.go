package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogpid/internal/secrets"
)

// ErrMalformedResponse is returned when a model reply has no usable JSON
// object. It is retryable.
var ErrMalformedResponse = errors.New("malformed collaborator response")

// Default LLM settings.
const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-sonnet-20241022"
	defaultMaxTokens      = 4096

	// maxPromptFiles caps how many workspace files the generator sees.
	maxPromptFiles = 20

	// maxPromptChars caps workspace text included in a prompt.
	maxPromptChars = 12000

	// charsPerToken estimates tokens when the provider reports none.
	charsPerToken = 4
)

// Pricing is USD per 1K tokens.
type Pricing struct {
	InputPer1K  float64 `koanf:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `koanf:"output_per_1k" json:"output_per_1k"`
}

// Cost returns the price of a call.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.InputPer1K + float64(outputTokens)/1000*p.OutputPer1K
}

// DefaultPrices is the built-in price table, keyed by model name.
var DefaultPrices = map[string]Pricing{
	"gpt-3.5-turbo":              {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"gpt-4":                      {InputPer1K: 0.03, OutputPer1K: 0.06},
	"gpt-4-turbo":                {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-4o":                     {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":                {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"claude-3-haiku":             {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	"claude-3-sonnet":            {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"deepseek-chat":              {InputPer1K: 0.00014, OutputPer1K: 0.00028},
	"deepseek-coder":             {InputPer1K: 0.00014, OutputPer1K: 0.00028},
}

// LLMConfig selects and prices a chat model.
type LLMConfig struct {
	// Provider is "openai" (also any OpenAI-compatible endpoint) or
	// "anthropic".
	Provider  string `koanf:"provider" json:"provider"`
	Model     string `koanf:"model" json:"model"`
	BaseURL   string `koanf:"base_url" json:"base_url"`
	APIKey    string `koanf:"api_key" json:"-"`
	MaxTokens int    `koanf:"max_tokens" json:"max_tokens"`

	// Price overrides DefaultPrices for Model when non-zero.
	Price Pricing `koanf:"price" json:"price"`
}

// NewModel builds a langchaingo chat model from cfg.
func NewModel(cfg LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "openai", "":
		opts := []openai.Option{openai.WithModel(orDefault(cfg.Model, defaultOpenAIModel))}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		return llm, nil
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(orDefault(cfg.Model, defaultAnthropicModel))}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithToken(cfg.APIKey))
		}
		llm, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating anthropic client: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}

// LLM drives the three collaborators through one chat model.
type LLM struct {
	model     llms.Model
	modelName string
	maxTokens int
	price     Pricing
	ledger    *Ledger
	scrubber  *secrets.Scrubber
	logger    *zap.Logger
}

// LLMOption configures an LLM.
type LLMOption func(*LLM)

// WithScrubber redacts secrets from every prompt before it is sent.
func WithScrubber(s *secrets.Scrubber) LLMOption {
	return func(l *LLM) { l.scrubber = s }
}

// NewLLM wraps model. Spend is charged to ledger, which may be nil.
func NewLLM(model llms.Model, cfg LLMConfig, ledger *Ledger, logger *zap.Logger, opts ...LLMOption) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Model
	if name == "" {
		name = defaultOpenAIModel
		if cfg.Provider == "anthropic" {
			name = defaultAnthropicModel
		}
	}
	price := cfg.Price
	if price == (Pricing{}) {
		price = DefaultPrices[name]
	}
	l := &LLM{
		model:     model,
		modelName: name,
		maxTokens: orDefaultInt(cfg.MaxTokens, defaultMaxTokens),
		price:     price,
		ledger:    ledger,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// complete sends one prompt and charges the ledger.
func (l *LLM) complete(ctx context.Context, role, prompt string, temperature float64) (string, error) {
	if res := l.scrubber.Scrub(prompt); res.Findings > 0 {
		l.logger.Warn("redacted secrets from prompt",
			zap.String("role", role),
			zap.Int("findings", res.Findings),
			zap.Any("by_rule", res.ByRule))
		prompt = res.Text
	}
	resp, err := l.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(l.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", role, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s completion: %w: no choices", role, ErrMalformedResponse)
	}

	choice := resp.Choices[0]
	in, out := tokenCounts(choice.GenerationInfo, prompt, choice.Content)
	usage := Usage{InputTokens: in, OutputTokens: out, CostUSD: l.price.Cost(in, out)}
	l.ledger.Charge(usage)

	l.logger.Debug("llm call completed",
		zap.String("role", role),
		zap.String("model", l.modelName),
		zap.Int("input_tokens", in),
		zap.Int("output_tokens", out),
		zap.Float64("cost_usd", usage.CostUSD))
	return choice.Content, nil
}

// Planner returns the LLM planner.
func (l *LLM) Planner() Planner {
	return Func[PlanRequest, Plan](func(ctx context.Context, req PlanRequest) (Plan, error) {
		content, err := l.complete(ctx, "planner", planPrompt(req), req.Params.PlannerTemperature)
		if err != nil {
			return Plan{}, err
		}
		var plan Plan
		if err := decodeJSON(content, &plan); err != nil {
			return Plan{}, err
		}
		for i := range plan.Tasks {
			if plan.Tasks[i].ID == "" {
				plan.Tasks[i].ID = fmt.Sprintf("TASK-%03d", i+1)
			}
		}
		return plan, nil
	})
}

// Generator returns the LLM generator.
func (l *LLM) Generator() Generator {
	return Func[GenerateRequest, Generation](func(ctx context.Context, req GenerateRequest) (Generation, error) {
		content, err := l.complete(ctx, "generator", generatePrompt(req), req.Params.Temperature)
		if err != nil {
			return Generation{}, err
		}
		var gen Generation
		if err := decodeJSON(content, &gen); err != nil {
			return Generation{}, err
		}
		for i := range gen.Risks {
			if gen.Risks[i].Severity == "" {
				gen.Risks[i].Severity = "medium"
			}
		}
		return gen, nil
	})
}

// Reviewer returns the LLM reviewer. Strict reviews run colder.
func (l *LLM) Reviewer() Reviewer {
	return Func[ReviewRequest, Review](func(ctx context.Context, req ReviewRequest) (Review, error) {
		temperature := 0.3 * (1 - req.Params.Strictness/2)
		content, err := l.complete(ctx, "reviewer", reviewPrompt(req), temperature)
		if err != nil {
			return Review{}, err
		}
		var raw struct {
			Verdict      string   `json:"verdict"`
			Issues       []Issue  `json:"issues"`
			QualityScore *float64 `json:"quality_score"`
		}
		if err := decodeJSON(content, &raw); err != nil {
			return Review{}, err
		}
		return normalizeReview(raw.Verdict, raw.Issues, raw.QualityScore), nil
	})
}

// normalizeReview defaults unknown verdicts to fail and estimates a missing
// score from issue severity.
func normalizeReview(verdict string, issues []Issue, score *float64) Review {
	r := Review{Verdict: VerdictFail, Issues: issues}
	if Verdict(verdict) == VerdictPass {
		r.Verdict = VerdictPass
	}
	for i := range r.Issues {
		if r.Issues[i].Severity == "" {
			r.Issues[i].Severity = "medium"
		}
	}

	if score != nil {
		r.QualityScore = max(0, min(1, *score))
		return r
	}

	critical, high := 0, 0
	for _, is := range r.Issues {
		switch is.Severity {
		case "critical":
			critical++
		case "high":
			high++
		}
	}
	switch {
	case critical > 0:
		r.QualityScore = 0
	case high > 2:
		r.QualityScore = 0.4
	case r.Passed():
		r.QualityScore = 0.8
	default:
		r.QualityScore = 0.5
	}
	return r
}

// decodeJSON decodes the first JSON object in s, ignoring code fences and
// any prose around it.
func decodeJSON(s string, v any) error {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}
	if err := json.NewDecoder(strings.NewReader(s[start:])).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// tokenCounts reads provider-reported usage, estimating from text length
// when absent.
func tokenCounts(info map[string]any, prompt, completion string) (int, int) {
	in := firstInt(info, "PromptTokens", "InputTokens")
	out := firstInt(info, "CompletionTokens", "OutputTokens")
	if in <= 0 {
		in = len(prompt) / charsPerToken
	}
	if out <= 0 {
		out = len(completion) / charsPerToken
	}
	return in, out
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
