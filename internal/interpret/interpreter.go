package interpret

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/raphaelgruber/pricewatch/internal/models"
)

// DefaultMaxChars bounds how much page text is sent to the model.
const DefaultMaxChars = 30000

// Interpreter structures page text into pricing plans.
type Interpreter interface {
	Interpret(ctx context.Context, text string) ([]models.PricingPlan, error)
}

// Generator is the slice of llm.Model the interpreter needs.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const systemPrompt = `You are an expert data extraction bot. Your task is to analyze text from a website's pricing page and structure the information into a valid JSON object.`

const userPromptTemplate = `Analyze the following text and identify any pricing plan or plans mentioned. A page might have one or more plans.

For EACH plan found, extract the following details:
1. "planName": The name of the plan (e.g., "Free", "Pro", "Business"). If there's no explicit name, infer a suitable name like "Standard Plan".
2. "price": The numerical price. Use 0 if it's free. Use null if it's a "Contact Us" or custom plan.
3. "currency": The 3-letter currency code (e.g., "USD", "EUR"). Default to "USD" if not found.
4. "billingCycle": Must be one of: "monthly", "annually", or "one_time".
5. "description": A short, one-sentence description of the plan's target audience.
6. "features": An array of strings listing the key features.

Your entire response MUST be a single, valid JSON object containing one key, "plans", which is an array of the extracted plan objects.
If you find only one plan, the array should contain a single object. If you find no plans, return an empty array for the "plans" key.
Do not include any text, markdown formatting, or comments before or after the JSON object.

TEXT TO ANALYZE:
---
%s
---`

// LLMInterpreter asks a language model to structure the text.
type LLMInterpreter struct {
	gen      Generator
	maxChars int
}

// NewLLMInterpreter creates an interpreter. maxChars <= 0 uses DefaultMaxChars.
func NewLLMInterpreter(gen Generator, maxChars int) *LLMInterpreter {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &LLMInterpreter{gen: gen, maxChars: maxChars}
}

// Interpret implements Interpreter.
func (i *LLMInterpreter) Interpret(ctx context.Context, text string) ([]models.PricingPlan, error) {
	prompt := BuildPrompt(text, i.maxChars)

	raw, err := i.gen.GenerateWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	plans, err := ParsePlans(raw)
	if err != nil {
		slog.Warn("unusable model response", "error", err, "response", truncateRunes(raw, 500))
		return nil, err
	}
	return plans, nil
}

// BuildPrompt renders the user prompt with text cut to maxChars runes.
func BuildPrompt(text string, maxChars int) string {
	return fmt.Sprintf(userPromptTemplate, truncateRunes(text, maxChars))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
