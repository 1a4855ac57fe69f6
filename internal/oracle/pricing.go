package oracle

// Pricing converts token usage into an estimated USD cost.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Cost returns the estimated cost of usage.
func (p Pricing) Cost(usage Usage) float64 {
	return float64(usage.PromptTokens)/1000*p.PromptPer1K +
		float64(usage.CompletionTokens)/1000*p.CompletionPer1K
}

// Apply fills result.CostUSD from its usage.
func (p Pricing) Apply(result Result) Result {
	result.CostUSD = p.Cost(result.Usage)
	return result
}
