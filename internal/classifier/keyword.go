package classifier

import (
	"context"
	"fmt"
	"strings"

	"orderbroker/internal/apperr"
	"orderbroker/internal/catalog"
)

// Keyword офлайн-классификатор по ключевым словам категорий.
// Для локального запуска без ключей провайдера.
type Keyword struct{}

func NewKeyword() *Keyword { return &Keyword{} }

func (Keyword) Provider() string { return "keyword" }
func (Keyword) Model() string    { return "keyword-v1" }

func (Keyword) Classify(ctx context.Context, text string, allowed []catalog.Category) (*Result, error) {
	if len(allowed) == 0 {
		return nil, apperr.Fatal(nil, "no categories to classify into")
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.Transient(err, "classification cancelled")
	}

	lower := strings.ToLower(text)
	var (
		best     catalog.Category
		bestHits int
	)
	for _, cat := range allowed {
		hits := 0
		for _, kw := range cat.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = cat, hits
		}
	}
	if bestHits == 0 {
		return &Result{
			CategoryID: allowed[len(allowed)-1].ID,
			Confidence: 0.1,
			Reasoning:  "no category keywords matched",
			Model:      "keyword-v1",
			Provider:   "keyword",
		}, nil
	}
	return &Result{
		CategoryID: best.ID,
		Confidence: min(0.5+0.15*float64(bestHits), 0.95),
		Reasoning:  fmt.Sprintf("matched %d keyword(s) of %s", bestHits, best.Name),
		Model:      "keyword-v1",
		Provider:   "keyword",
	}, nil
}
