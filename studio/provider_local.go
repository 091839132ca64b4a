package studio

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/stevecastle/photomaxx/filters"
)

// PresetProvider answers prompts without a network service by rendering
// catalog presets. Attempt 1 uses the preset whose id, name and description
// share the most words with the prompt; later attempts step through the
// rest of the catalog in order.
type PresetProvider struct {
	Runner filters.Runner
}

// Name is "local".
func (PresetProvider) Name() string { return "local" }

// Generate renders one preset over req.Source.
func (p PresetProvider) Generate(ctx context.Context, req GenerateRequest) (*Generated, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defs := filters.Catalog()
	def := defs[(bestPreset(defs, req.Prompt)+req.Attempt-1)%len(defs)]
	a, err := p.Runner.ApplyDefinition(req.Source, def)
	if err != nil {
		return nil, err
	}
	return &Generated{
		Image:         a.Output,
		MimeType:      "image/jpeg",
		RevisedPrompt: fmt.Sprintf("%s (rendered as %s)", req.Prompt, def.Name),
		Meta: map[string]any{
			"filterId":   def.ID,
			"filterName": def.Name,
			"attempt":    req.Attempt,
			"noCrop":     true,
		},
	}, nil
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// bestPreset returns the index of the preset sharing the most words with
// prompt, or 0 when nothing matches.
func bestPreset(defs []filters.Definition, prompt string) int {
	asked := map[string]bool{}
	for _, w := range words(prompt) {
		asked[w] = true
	}
	best, bestScore := 0, 0
	for i, d := range defs {
		score := 0
		seen := map[string]bool{}
		for _, w := range words(string(d.ID) + " " + d.Name + " " + d.Description) {
			if asked[w] && !seen[w] {
				score++
				seen[w] = true
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}
