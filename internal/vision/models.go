package vision

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/framesift/framesift/internal/models"
)

// Model variant per accuracy tier, in increasing cost and accuracy.
const (
	ModelFast     = openai.GPT4oMini
	ModelBalanced = openai.GPT4o
	ModelPrecise  = "gpt-4.1"
)

// ModelForTier maps an accuracy tier to its model variant. Unknown tiers
// fall back to the balanced model.
func ModelForTier(tier string) string {
	switch tier {
	case models.TierFast:
		return ModelFast
	case models.TierPrecise:
		return ModelPrecise
	default:
		return ModelBalanced
	}
}

// Pricing is USD per 1000 tokens, input and output priced independently.
type Pricing struct {
	InputPerK  float64
	OutputPerK float64
}

var pricing = map[string]Pricing{
	ModelFast:     {InputPerK: 0.00015, OutputPerK: 0.0006},
	ModelBalanced: {InputPerK: 0.0025, OutputPerK: 0.01},
	ModelPrecise:  {InputPerK: 0.002, OutputPerK: 0.008},
}

// Cost computes the monetary cost of one model call.
func Cost(model string, inputTokens, outputTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		p = pricing[ModelBalanced]
	}
	return float64(inputTokens)/1000*p.InputPerK + float64(outputTokens)/1000*p.OutputPerK
}
