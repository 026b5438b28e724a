package service

import (
	"strings"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/pkg/similarity"
)

// NormalizeID keeps only the ASCII digits of id, so "Q1", "1." and "Answer 1"
// all become "1". Leading zeros are kept.
func NormalizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Reconciler pairs evaluations with question bank entries and scores them.
type Reconciler struct {
	// MatchEmptyIDs lets IDs without digits match each other.
	MatchEmptyIDs bool
}

// Reconcile returns one ScoredResult per evaluation that has a matching bank
// entry, in evaluation order. Evaluations without a match are dropped. When
// several entries share a normalized ID the first one wins.
func (r Reconciler) Reconcile(response models.GradingResponse) []models.ScoredResult {
	entries := make(map[string]models.QuestionBankEntry, len(response.QuestionBank))
	for _, entry := range response.QuestionBank {
		key := NormalizeID(entry.ID)
		if key == "" && !r.MatchEmptyIDs {
			continue
		}
		if _, exists := entries[key]; !exists {
			entries[key] = entry
		}
	}

	results := make([]models.ScoredResult, 0, len(response.Evaluation))
	for _, evaluation := range response.Evaluation {
		key := NormalizeID(evaluation.ID)
		if key == "" && !r.MatchEmptyIDs {
			continue
		}
		entry, ok := entries[key]
		if !ok {
			continue
		}
		results = append(results, models.ScoredResult{
			Evaluation:      evaluation,
			Entry:           entry,
			SimilarityScore: similarity.Similarity(entry.ModelAnswer, evaluation.ExtractedAnswer),
		})
	}
	return results
}
