package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"orderbroker/internal/apperr"
	"orderbroker/internal/catalog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

const systemPrompt = `You classify custom manufacturing requests into exactly one category.
Allowed categories (id: name - description):
%s
Answer with a single JSON object and nothing else:
{"categoryId": <id from the list>, "confidence": <number between 0 and 1>, "reasoning": "<one sentence>"}`

type Options struct {
	Provider          string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
	CostPer1KTokens   float64
}

// LLM классификатор поверх llms.Model (openai, anthropic, ollama)
type LLM struct {
	model   llms.Model
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewLLM(model llms.Model, opts Options, logger *slog.Logger) *LLM {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60)
		burst = max(1, opts.RequestsPerMinute/10)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{
		model:   model,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "classifier", "provider", opts.Provider),
	}
}

func (c *LLM) Provider() string { return c.opts.Provider }
func (c *LLM) Model() string    { return c.opts.Model }

type answer struct {
	CategoryID int64   `json:"categoryId"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (c *LLM) Classify(ctx context.Context, text string, allowed []catalog.Category) (*Result, error) {
	if len(allowed) == 0 {
		return nil, apperr.Fatal(nil, "no categories to classify into")
	}

	// таймаут покрывает и ожидание лимитера, и сам вызов
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.Transient(err, "classification rate limit wait")
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, fmt.Sprintf(systemPrompt, describe(allowed))),
		llms.TextParts(schema.ChatMessageTypeHuman, text),
	}
	resp, err := c.model.GenerateContent(ctx, messages,
		llms.WithTemperature(0),
		llms.WithMaxTokens(300),
	)
	if err != nil {
		return nil, TranslateError(c.opts.Provider, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, apperr.Transient(nil, "%s returned no choices", c.opts.Provider)
	}
	choice := resp.Choices[0]

	raw, err := ExtractJSON(choice.Content)
	if err != nil {
		return nil, apperr.Transient(err, "unparseable classification answer")
	}
	var a answer
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, apperr.Transient(err, "unparseable classification answer")
	}
	if !containsID(allowed, a.CategoryID) {
		return nil, apperr.Transient(nil, "provider suggested unknown category %d", a.CategoryID)
	}

	tokens := tokensUsed(choice.GenerationInfo)
	res := &Result{
		CategoryID: a.CategoryID,
		Confidence: clamp(a.Confidence),
		Reasoning:  strings.TrimSpace(a.Reasoning),
		TokensUsed: tokens,
		Model:      c.opts.Model,
		Provider:   c.opts.Provider,
		CostUSD:    float64(tokens) / 1000 * c.opts.CostPer1KTokens,
	}
	c.logger.Debug("request classified",
		"category_id", res.CategoryID,
		"confidence", res.Confidence,
		"tokens", tokens,
	)
	return res, nil
}

func describe(allowed []catalog.Category) string {
	var b strings.Builder
	for _, cat := range allowed {
		fmt.Fprintf(&b, "%d: %s", cat.ID, cat.Name)
		if cat.Description != "" {
			fmt.Fprintf(&b, " - %s", cat.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func containsID(allowed []catalog.Category, id int64) bool {
	for _, cat := range allowed {
		if cat.ID == id {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// tokensUsed провайдеры кладут счётчики под разными ключами
func tokensUsed(info map[string]any) int {
	if n := toInt(info["TotalTokens"]); n > 0 {
		return n
	}
	if n := toInt(info["PromptTokens"]) + toInt(info["CompletionTokens"]); n > 0 {
		return n
	}
	return toInt(info["InputTokens"]) + toInt(info["OutputTokens"])
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
