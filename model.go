package forecaster

import (
	"fmt"

	"github.com/aouyang1/go-eiacast/sarima"
	"github.com/aouyang1/go-eiacast/score"
	"github.com/goccy/go-json"
)

// Params is the summary of a trained model stored in the metadata row next to its blob.
type Params struct {
	Order        sarima.Order        `json:"order"`
	Coefficients sarima.Coefficients `json:"coefficients"`
	Intercept    float64             `json:"intercept"`
	Variance     float64             `json:"variance"`
	AIC          float64             `json:"aic"`
	BIC          float64             `json:"bic"`
	Scores       *score.Scores       `json:"scores,omitempty"`
}

// NewParams summarizes a trained model state.
func NewParams(s sarima.State) (*Params, error) {
	if s.Options == nil {
		return nil, fmt.Errorf("missing options, %w", sarima.ErrInvalidState)
	}
	return &Params{
		Order:        s.Options.Order,
		Coefficients: s.Coefficients,
		Intercept:    s.Intercept,
		Variance:     s.Variance,
		AIC:          s.AIC,
		BIC:          s.BIC,
		Scores:       s.Scores,
	}, nil
}

// Encode serializes the params for the metadata row.
func (p *Params) Encode() (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("unable to encode model params, %w", err)
	}
	return b, nil
}

// DecodeParams reads params written by Encode.
func DecodeParams(b []byte) (*Params, error) {
	var p Params
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("unable to decode model params, %w", err)
	}
	return &p, nil
}
