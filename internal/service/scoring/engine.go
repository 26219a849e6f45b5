package scoring

import (
	"context"
	"encoding/json"
	"fmt"
)

// Weights combine the component scores into the total; they must add up to 100.
type Weights struct {
	Technical    int
	Psychometric int
}

var DefaultWeights = Weights{Technical: 70, Psychometric: 30}

func (w Weights) Validate() error {
	if w.Technical < 0 || w.Psychometric < 0 || w.Technical+w.Psychometric != 100 {
		return fmt.Errorf("score weights must be non-negative and sum to 100, got %d+%d", w.Technical, w.Psychometric)
	}
	return nil
}

// Total is round(0.7*technical + 0.3*psychometric) with the default weights.
// Integer arithmetic, halves round up.
func (w Weights) Total(technical, psychometric int) int {
	technical, psychometric = clampScore(technical), clampScore(psychometric)
	return (w.Technical*technical + w.Psychometric*psychometric + 50) / 100
}

type Evaluation struct {
	Breakdown
	Total    int
	Decision Decision
}

type Engine struct {
	scorer  Scorer
	weights Weights
}

func NewEngine(scorer Scorer, weights Weights) (*Engine, error) {
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Engine{scorer: scorer, weights: weights}, nil
}

func (e *Engine) Evaluate(ctx context.Context, answers json.RawMessage) (*Evaluation, error) {
	breakdown, err := e.scorer.Score(ctx, answers)
	if err != nil {
		return nil, err
	}

	breakdown.Technical = clampScore(breakdown.Technical)
	breakdown.Psychometric = clampScore(breakdown.Psychometric)
	total := e.weights.Total(breakdown.Technical, breakdown.Psychometric)

	return &Evaluation{
		Breakdown: breakdown,
		Total:     total,
		Decision:  Explain(breakdown.Technical, breakdown.Psychometric, total),
	}, nil
}
