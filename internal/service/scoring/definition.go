package scoring

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition describes the gradable parts of an assessment: the MCQ answer key,
// psychometric items and how the technical sub-components are weighted.
type Definition struct {
	Coding       CodingSection       `yaml:"coding"`
	MCQ          MCQSection          `yaml:"mcq"`
	Psychometric PsychometricSection `yaml:"psychometric"`
}

type CodingSection struct {
	Weight int `yaml:"weight"`
}

type MCQSection struct {
	Weight    int           `yaml:"weight"`
	Questions []MCQQuestion `yaml:"questions"`
}

type MCQQuestion struct {
	ID      string   `yaml:"id"`
	Prompt  string   `yaml:"prompt"`
	Options []string `yaml:"options"`
	Answer  string   `yaml:"answer"`
}

type PsychometricSection struct {
	Min   int                `yaml:"min"`
	Max   int                `yaml:"max"`
	Items []PsychometricItem `yaml:"items"`
}

type PsychometricItem struct {
	ID        string `yaml:"id"`
	Statement string `yaml:"statement"`
	Trait     string `yaml:"trait"`
	Reverse   bool   `yaml:"reverse"`
}

// LoadDefinition reads and validates the assessment definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assessment definition: %w", err)
	}

	def := &Definition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assessment definition: %w", err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return def, nil
}

// DefaultDefinition is used when no definition file is configured.
func DefaultDefinition() *Definition {
	return &Definition{
		Coding: CodingSection{Weight: 60},
		MCQ: MCQSection{
			Weight: 40,
			Questions: []MCQQuestion{
				{ID: "q1", Prompt: "Time complexity of binary search?", Options: []string{"O(n)", "O(log n)", "O(1)"}, Answer: "O(log n)"},
				{ID: "q2", Prompt: "Which structure is LIFO?", Options: []string{"queue", "stack", "heap"}, Answer: "stack"},
				{ID: "q3", Prompt: "HTTP status for a missing resource?", Options: []string{"400", "404", "500"}, Answer: "404"},
			},
		},
		Psychometric: PsychometricSection{
			Min: 1,
			Max: 5,
			Items: []PsychometricItem{
				{ID: "p1", Statement: "I stay calm when deadlines move.", Trait: "resilience"},
				{ID: "p2", Statement: "I prefer to solve problems alone.", Trait: "collaboration", Reverse: true},
				{ID: "p3", Statement: "I enjoy learning unfamiliar tools.", Trait: "adaptability"},
				{ID: "p4", Statement: "Criticism of my code upsets me.", Trait: "resilience", Reverse: true},
			},
		},
	}
}

func (d *Definition) Validate() error {
	if d.Coding.Weight < 0 || d.MCQ.Weight < 0 {
		return errors.New("component weights must not be negative")
	}
	if d.Coding.Weight+d.MCQ.Weight == 0 {
		return errors.New("at least one technical component must have a weight")
	}
	if d.Psychometric.Max <= d.Psychometric.Min {
		return fmt.Errorf("invalid psychometric scale %d..%d", d.Psychometric.Min, d.Psychometric.Max)
	}

	seen := make(map[string]struct{})
	for _, q := range d.MCQ.Questions {
		if q.ID == "" || q.Answer == "" {
			return errors.New("mcq question requires id and answer")
		}
		if _, ok := seen[q.ID]; ok {
			return fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	for _, item := range d.Psychometric.Items {
		if item.ID == "" {
			return errors.New("psychometric item requires id")
		}
		if _, ok := seen[item.ID]; ok {
			return fmt.Errorf("duplicate question id %q", item.ID)
		}
		seen[item.ID] = struct{}{}
	}

	return nil
}
