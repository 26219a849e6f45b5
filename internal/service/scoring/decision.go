package scoring

import (
	"fmt"
	"strings"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
)

const (
	hireThreshold     = 80
	considerThreshold = 60
)

type Decision struct {
	Tier        models.DecisionTier
	Explanation string
	Strengths   []string
	Probes      []string
}

// Tier: >80 HIRE, 61..80 CONSIDER, <=60 NO_HIRE.
func Tier(total int) models.DecisionTier {
	switch {
	case total > hireThreshold:
		return models.DecisionHire
	case total > considerThreshold:
		return models.DecisionConsider
	default:
		return models.DecisionNoHire
	}
}

// Explain builds the advisory text stored with the attempt. The text is not parsed anywhere.
func Explain(technical, psychometric, total int) Decision {
	tier := Tier(total)
	decision := Decision{Tier: tier}

	var b strings.Builder
	switch tier {
	case models.DecisionHire:
		decision.Strengths = strengths(technical, psychometric)
		fmt.Fprintf(&b, "**Strong HIRE Recommendation**. The candidate demonstrated strong technical proficiency (%d%%) ", technical)
		fmt.Fprintf(&b, "and a psychometric profile of %d%% that points to steady problem-solving under pressure.", psychometric)
		b.WriteString("\n\n**Key Strengths:**\n")
		writeList(&b, decision.Strengths)
		b.WriteString("\n\n**Potential Risks:**\n- None detected.")
	case models.DecisionConsider:
		decision.Probes = probes(technical, psychometric)
		fmt.Fprintf(&b, "**Potential Candidate**. Technical skills scored %d%% and psychometric indicators %d%%. ", technical, psychometric)
		b.WriteString("Recommended for a technical interview before a final decision.")
		b.WriteString("\n\n**Areas to Probe:**\n")
		writeList(&b, decision.Probes)
	default:
		fmt.Fprintf(&b, "**No Hire Recommended**. The technical foundation (%d%%) does not meet the bar for this role. ", technical)
		b.WriteString("Coding solutions lacked sufficient correctness on the automated checks.")
	}

	decision.Explanation = b.String()
	return decision
}

func strengths(technical, psychometric int) []string {
	var out []string
	if technical >= 85 {
		out = append(out, "Algorithmic efficiency")
	}
	if technical >= 75 {
		out = append(out, "Error handling")
	}
	if psychometric >= 75 {
		out = append(out, "Resilience under pressure")
	}
	if psychometric >= 60 {
		out = append(out, "Problem-solving adaptability")
	}
	if len(out) == 0 {
		out = append(out, "Consistent overall performance")
	}
	return out
}

func probes(technical, psychometric int) []string {
	var out []string
	if psychometric < technical {
		out = append(out, "Team conflict resolution")
	}
	if technical < 80 {
		out = append(out, "Code maintainability")
	}
	if psychometric < 70 {
		out = append(out, "Interactions under stress")
	}
	if len(out) == 0 {
		out = append(out, "Cultural fit")
	}
	return out
}

func writeList(b *strings.Builder, items []string) {
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
}
