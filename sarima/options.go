package sarima

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultMaxIterations = 4000
	DefaultConfidence    = 0.95
)

// Order is the (p,d,q)(P,D,Q,m) specification of a seasonal ARIMA model.
type Order struct {
	P  int `json:"p"`
	D  int `json:"d"`
	Q  int `json:"q"`
	SP int `json:"seasonal_p"`
	SD int `json:"seasonal_d"`
	SQ int `json:"seasonal_q"`
	M  int `json:"m"`
}

// DefaultOrder is the (1,1,2)(1,1,1,12) order tuned for monthly retail sales.
func DefaultOrder() Order {
	return Order{P: 1, D: 1, Q: 2, SP: 1, SD: 1, SQ: 1, M: 12}
}

// ParseOrder accepts either "p,d,q,P,D,Q,m" or "(p,d,q)(P,D,Q,m)".
func ParseOrder(s string) (Order, error) {
	s = strings.ReplaceAll(s, ")(", ",")
	s = strings.Trim(strings.TrimSpace(s), "()")
	parts := strings.Split(s, ",")
	if len(parts) != 7 {
		return Order{}, fmt.Errorf("expected 7 terms in %q, %w", s, ErrInvalidOrder)
	}

	vals := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Order{}, fmt.Errorf("unable to parse order term %q, %w", part, ErrInvalidOrder)
		}
		vals = append(vals, v)
	}
	o := Order{P: vals[0], D: vals[1], Q: vals[2], SP: vals[3], SD: vals[4], SQ: vals[5], M: vals[6]}
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Validate checks that every term is non-negative and that seasonal terms have a period.
func (o Order) Validate() error {
	for _, v := range []int{o.P, o.D, o.Q, o.SP, o.SD, o.SQ, o.M} {
		if v < 0 {
			return fmt.Errorf("negative term in %s, %w", o, ErrInvalidOrder)
		}
	}
	if o.SP+o.SD+o.SQ > 0 && o.M < 2 {
		return fmt.Errorf("seasonal terms require a period of at least 2 in %s, %w", o, ErrInvalidOrder)
	}
	return nil
}

func (o Order) String() string {
	return fmt.Sprintf("(%d,%d,%d)(%d,%d,%d,%d)", o.P, o.D, o.Q, o.SP, o.SD, o.SQ, o.M)
}

// NumParams is the number of estimated ARMA coefficients.
func (o Order) NumParams() int {
	return o.P + o.Q + o.SP + o.SQ
}

// minObservations is the shortest series that leaves enough differenced points to estimate
// every coefficient.
func (o Order) minObservations() int {
	return o.D + o.SD*o.M + o.P + o.Q + (o.SP+o.SQ)*o.M + 10
}

// Options configures how a SARIMA model is fit and forecasted.
type Options struct {
	Order         Order   `json:"order"`
	MaxIterations int     `json:"max_iterations"`
	Confidence    float64 `json:"confidence"`
}

// NewDefaultOptions returns the default order with a bounded optimizer budget and 95% intervals.
func NewDefaultOptions() *Options {
	return &Options{
		Order:         DefaultOrder(),
		MaxIterations: DefaultMaxIterations,
		Confidence:    DefaultConfidence,
	}
}

func (o *Options) copy() *Options {
	if o == nil {
		return NewDefaultOptions()
	}
	c := *o
	return &c
}
