package classifier

import (
	"fmt"
	"strings"

	"basegraph.app/intake/common/llm"
	"basegraph.app/intake/internal/model"
)

// ModelVerdict is the JSON object both model tiers must return.
type ModelVerdict struct {
	Domain     string  `json:"domain" jsonschema:"enum=personal,enum=business,enum=mixed" jsonschema_description:"Life domain the input belongs to"`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence in the domain, 0.0-1.0"`
	Reasoning  string  `json:"reasoning" jsonschema_description:"One sentence explaining the decision"`
	Category   string  `json:"category" jsonschema_description:"Optional sub-category such as client, finance, product, meeting, health, family, home; empty if none"`
}

var verdictSchema = llm.GenerateSchema[ModelVerdict]()

const domainPromptVersion = "v1"

const domainSystemPrompt = `You triage short personal notes, messages and emails for a busy founder.
Inputs may be in Hebrew, English or both.

Classify the input's life domain:
- personal: family, health, home, friends, leisure
- business: clients, money, product, meetings, company operations
- mixed: clearly touches both, or work/life overlap such as freelancing or side projects

Return confidence as a number between 0 and 1. Be honest: short or ambiguous inputs deserve low confidence.
Use category for the most specific sub-category you are sure of, otherwise leave it empty.`

func buildWeakPrompt(text, extra string, examples []model.FewShotExample) string {
	var b strings.Builder
	if len(examples) > 0 {
		b.WriteString("Examples of correct classifications:\n")
		for _, ex := range examples {
			fmt.Fprintf(&b, "- input: %q -> domain=%s category=%s (%s)\n", ex.Query, ex.Domain, ex.Category, ex.Reasoning)
		}
		b.WriteString("\n")
	}
	writeInput(&b, text, extra)
	return b.String()
}

func buildStrongPrompt(text, extra string, prior model.DomainClassification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A cheaper classifier was unsure about this input. It said domain=%s with confidence %.2f (%s).\n",
		prior.Domain, prior.Confidence, prior.Method)
	if prior.Reasoning != "" {
		fmt.Fprintf(&b, "Its reasoning: %s\n", prior.Reasoning)
	}
	if len(prior.Signals) > 0 {
		fmt.Fprintf(&b, "Keyword signals found: %s\n", strings.Join(prior.Signals, ", "))
	}
	b.WriteString("Make your own decision.\n\n")
	writeInput(&b, text, extra)
	return b.String()
}

func writeInput(b *strings.Builder, text, extra string) {
	if extra != "" {
		fmt.Fprintf(b, "Context: %s\n", extra)
	}
	fmt.Fprintf(b, "Input:\n%s\n", text)
}
