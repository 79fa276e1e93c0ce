package classifier_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"orderbroker/internal/apperr"
	"orderbroker/internal/catalog"
	"orderbroker/internal/classifier"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

type scriptedModel struct {
	content string
	info    map[string]any
	err     error
	block   bool
	prompts []llms.MessageContent
}

func (m *scriptedModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.prompts = msgs
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.content, GenerationInfo: m.info}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, _ ...llms.CallOption) (string, error) {
	return m.content, m.err
}

func newLLM(m llms.Model) *classifier.LLM {
	return classifier.NewLLM(m, classifier.Options{
		Provider:        "openai",
		Model:           "gpt-4o-mini",
		Timeout:         time.Second,
		CostPer1KTokens: 0.002,
	}, nil)
}

func TestClassifyParsesAnswer(t *testing.T) {
	m := &scriptedModel{
		content: "Sure!\n```json\n{\"categoryId\": 7, \"confidence\": 0.92, \"reasoning\": \"mentions a PCB\"}\n```",
		info:    map[string]any{"TotalTokens": 500},
	}
	res, err := newLLM(m).Classify(context.Background(), "Need a PCB with 4 LEDs", catalog.Default().List())
	require.NoError(t, err)
	require.Equal(t, int64(7), res.CategoryID)
	require.InDelta(t, 0.92, res.Confidence, 1e-9)
	require.Equal(t, "mentions a PCB", res.Reasoning)
	require.Equal(t, 500, res.TokensUsed)
	require.InDelta(t, 0.001, res.CostUSD, 1e-9)
	require.Equal(t, "openai", res.Provider)

	require.Len(t, m.prompts, 2)
	require.Equal(t, schema.ChatMessageTypeSystem, m.prompts[0].Role)
}

func TestClassifyClampsConfidence(t *testing.T) {
	m := &scriptedModel{content: `{"categoryId": 2, "confidence": 1.7, "reasoning": "steel"}`}
	res, err := newLLM(m).Classify(context.Background(), "steel gate", catalog.Default().List())
	require.NoError(t, err)
	require.Equal(t, 1.0, res.Confidence)
}

func TestClassifyRejectsUnknownCategory(t *testing.T) {
	m := &scriptedModel{content: `{"categoryId": 999, "confidence": 0.8, "reasoning": "?"}`}
	_, err := newLLM(m).Classify(context.Background(), "something", catalog.Default().List())
	require.ErrorIs(t, err, apperr.ErrTransient)
}

func TestClassifyTranslatesProviderErrors(t *testing.T) {
	m := &scriptedModel{err: errors.New("401 Unauthorized: invalid api key")}
	_, err := newLLM(m).Classify(context.Background(), "x", catalog.Default().List())
	require.ErrorIs(t, err, apperr.ErrFatal)

	m = &scriptedModel{err: errors.New("429 Too Many Requests")}
	_, err = newLLM(m).Classify(context.Background(), "x", catalog.Default().List())
	require.True(t, apperr.Retryable(err))
}

func TestClassifyTimesOut(t *testing.T) {
	m := &scriptedModel{block: true}
	c := classifier.NewLLM(m, classifier.Options{Provider: "ollama", Timeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	_, err := c.Classify(context.Background(), "x", catalog.Default().List())
	require.ErrorIs(t, err, apperr.ErrTransient)
	require.Less(t, time.Since(start), time.Second)
}

func TestClassifyWithoutCategoriesIsFatal(t *testing.T) {
	_, err := newLLM(&scriptedModel{}).Classify(context.Background(), "x", nil)
	require.ErrorIs(t, err, apperr.ErrFatal)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                         `{"a":1}`,
		"text before {\"a\":\"}\"} after": `{"a":"}"}`,
		"```\n{\"b\":2}\n```":             `{"b":2}`,
	}
	for in, want := range cases {
		got, err := classifier.ExtractJSON(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}

	_, err := classifier.ExtractJSON("no json here")
	require.Error(t, err)
}

func TestKeywordClassifier(t *testing.T) {
	res, err := classifier.NewKeyword().Classify(context.Background(),
		"Custom PCB with a temperature sensor and LED strip", catalog.Default().List())
	require.NoError(t, err)
	require.Equal(t, int64(7), res.CategoryID)
	require.Greater(t, res.Confidence, 0.6)

	res, err = classifier.NewKeyword().Classify(context.Background(), "zzz", catalog.Default().List())
	require.NoError(t, err)
	require.Less(t, res.Confidence, 0.5)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := classifier.New(classifier.Config{Provider: "nope"}, nil)
	require.Error(t, err)

	c, err := classifier.New(classifier.Config{Provider: "fake"}, nil)
	require.NoError(t, err)
	require.Equal(t, "keyword", c.Provider())
}
