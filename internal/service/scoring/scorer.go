package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/RubachokBoss/proctored-assessment/internal/service/executor"
)

// Breakdown holds the two component scores, each in [0,100].
type Breakdown struct {
	Technical    int `json:"technical"`
	Psychometric int `json:"psychometric"`
}

type Scorer interface {
	Score(ctx context.Context, answers json.RawMessage) (Breakdown, error)
}

// RuleScorer is the deterministic scorer: same answers, same scores.
type RuleScorer struct {
	def    *Definition
	runner executor.Runner
}

func NewRuleScorer(def *Definition, runner executor.Runner) *RuleScorer {
	if def == nil {
		def = DefaultDefinition()
	}
	return &RuleScorer{def: def, runner: runner}
}

func (s *RuleScorer) Score(ctx context.Context, raw json.RawMessage) (Breakdown, error) {
	answers, err := ParseAnswers(raw)
	if err != nil {
		return Breakdown{}, err
	}

	technical, err := s.technical(ctx, answers)
	if err != nil {
		return Breakdown{}, err
	}

	return Breakdown{
		Technical:    technical,
		Psychometric: s.psychometric(answers),
	}, nil
}

func (s *RuleScorer) technical(ctx context.Context, answers *Answers) (int, error) {
	var weighted, weights float64

	coding, ok, err := s.codingRatio(ctx, answers)
	if err != nil {
		return 0, err
	}
	if ok && s.def.Coding.Weight > 0 {
		weighted += float64(s.def.Coding.Weight) * coding
		weights += float64(s.def.Coding.Weight)
	}

	if mcq, ok := s.mcqRatio(answers); ok && s.def.MCQ.Weight > 0 {
		weighted += float64(s.def.MCQ.Weight) * mcq
		weights += float64(s.def.MCQ.Weight)
	}

	if weights == 0 {
		return 0, nil
	}

	return percent(weighted / weights), nil
}

func (s *RuleScorer) codingRatio(ctx context.Context, answers *Answers) (float64, bool, error) {
	if answers.Tests != nil && answers.Tests.Total > 0 {
		return ratio(answers.Tests.Passed, answers.Tests.Total), true, nil
	}

	if strings.TrimSpace(answers.Code) == "" || s.runner == nil {
		return 0, false, nil
	}

	language := answers.Language
	if language == "" {
		language = "javascript"
	}

	run, err := s.runner.Run(ctx, answers.Code, language)
	if err != nil {
		return 0, false, fmt.Errorf("failed to run submitted code: %w", err)
	}
	if run.Total <= 0 {
		return 0, false, nil
	}

	return ratio(run.Passed, run.Total), true, nil
}

func (s *RuleScorer) mcqRatio(answers *Answers) (float64, bool) {
	if len(s.def.MCQ.Questions) == 0 || len(answers.MCQ) == 0 {
		return 0, false
	}

	correct := 0
	for _, q := range s.def.MCQ.Questions {
		if strings.EqualFold(strings.TrimSpace(answers.MCQ[q.ID]), q.Answer) {
			correct++
		}
	}

	return ratio(correct, len(s.def.MCQ.Questions)), true
}

func (s *RuleScorer) psychometric(answers *Answers) int {
	scale := s.def.Psychometric
	span := float64(scale.Max - scale.Min)

	var sum float64
	answered := 0
	for _, item := range scale.Items {
		v, ok := answers.Psychometric[item.ID]
		if !ok || math.IsNaN(v) {
			continue
		}

		v = math.Max(float64(scale.Min), math.Min(float64(scale.Max), v))
		normalized := (v - float64(scale.Min)) / span
		if item.Reverse {
			normalized = 1 - normalized
		}

		sum += normalized
		answered++
	}

	if answered == 0 {
		return 0
	}

	return percent(sum / float64(answered))
}

// FixedScorer returns the same breakdown for every submission.
type FixedScorer struct {
	Technical    int
	Psychometric int
}

func (s FixedScorer) Score(ctx context.Context, answers json.RawMessage) (Breakdown, error) {
	return Breakdown{
		Technical:    clampScore(s.Technical),
		Psychometric: clampScore(s.Psychometric),
	}, nil
}

func ratio(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	r := float64(part) / float64(total)
	return math.Max(0, math.Min(1, r))
}

// percent maps [0,1] to [0,100], rounding half up.
func percent(r float64) int {
	return clampScore(int(math.Floor(r*100 + 0.5 + 1e-9)))
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
