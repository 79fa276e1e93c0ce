// Package classifier подбирает категорию для текста заявки через внешнюю LLM.
package classifier

import (
	"context"

	"orderbroker/internal/catalog"
)

// Result предложение классификатора
type Result struct {
	CategoryID int64
	Confidence float64
	Reasoning  string
	TokensUsed int
	Model      string
	Provider   string
	CostUSD    float64
}

// Classifier возвращает категорию из allowed либо ошибку apperr
// (Transient для повторяемых сбоев, Fatal для неустранимых).
type Classifier interface {
	Classify(ctx context.Context, text string, allowed []catalog.Category) (*Result, error)
	Provider() string
	Model() string
}
