package flow

// ModelPricing defines token costs for LLM models, in USD per 1M tokens.
// The combined rate is a blended input/output figure; the executor only
// needs an aggregate cost estimate per run, not a billing-grade split.
type ModelPricing struct {
	Per1M float64
}

// defaultModelPricing covers the major providers. Unknown models fall
// back to defaultTokenRate. Prices drift; update as providers adjust.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                     {Per1M: 6.25},
	"gpt-4o-mini":                {Per1M: 0.375},
	"gpt-4-turbo":                {Per1M: 20.00},
	"gpt-3.5-turbo":              {Per1M: 1.00},
	"claude-3-5-sonnet-20241022": {Per1M: 9.00},
	"claude-3-opus-20240229":     {Per1M: 45.00},
	"claude-3-haiku-20240307":    {Per1M: 0.75},
	"gemini-1.5-pro":             {Per1M: 3.125},
	"gemini-1.5-flash":           {Per1M: 0.1875},
}

// defaultTokenRate is the fallback blended rate per 1M tokens.
const defaultTokenRate = 5.00

// imagePricing is the flat per-image cost by model.
var imagePricing = map[string]float64{
	"dall-e-3": 0.040,
	"dall-e-2": 0.020,
}

// defaultImageCost is the fallback per-image cost.
const defaultImageCost = 0.040

// tokenCost estimates the USD cost of a completion.
func tokenCost(model string, tokens int) float64 {
	rate := defaultTokenRate
	if p, ok := defaultModelPricing[model]; ok {
		rate = p.Per1M
	}
	return float64(tokens) * rate / 1_000_000
}

// imageCost estimates the USD cost of one generated image.
func imageCost(model string) float64 {
	if c, ok := imagePricing[model]; ok {
		return c
	}
	return defaultImageCost
}
