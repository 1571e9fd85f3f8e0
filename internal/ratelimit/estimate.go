package ratelimit

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Per-token prices in dollars. The output side is a fixed allowance since
// the response length is unknown at admission time; the reconciled cost
// from the backend result replaces the estimate after the exchange.
const (
	inputCostPerToken = 3.0 / 1_000_000
	outputAllowance   = 800 * 15.0 / 1_000_000
)

// Estimator produces an admission-time cost estimate for a prompt.
type Estimator struct {
	tokenizer *tiktoken.Tiktoken
}

// NewEstimator selects a tokenizer for the configured model, falling back
// to cl100k_base for models tiktoken does not know.
func NewEstimator(model string) (*Estimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Estimator{tokenizer: enc}, nil
}

// EstimateCost returns the expected dollar cost of one exchange over the
// given prompt. Deliberately rough: it gates admission, it is never billed.
func (e *Estimator) EstimateCost(prompt string) float64 {
	tokens := len(e.tokenizer.Encode(prompt, nil, nil))
	return float64(tokens)*inputCostPerToken + outputAllowance
}
