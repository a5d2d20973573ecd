// Package score computes forecast accuracy metrics between predicted and actual values.
// Pairs where either side is NaN are skipped.
package score

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrResLenMismatch = errors.New("predicted and actual have different lengths")
	ErrNoPairs        = errors.New("no comparable predicted and actual pairs")
)

// Scores tracks the accuracy of a set of predictions
type Scores struct {
	MSE  float64 `json:"mean_squared_error"`
	RMSE float64 `json:"root_mean_squared_error"`
	MAE  float64 `json:"mean_absolute_error"`
	MAPE float64 `json:"mean_absolute_percent_error"`
	R2   float64 `json:"r_squared"`
	N    int     `json:"n"`
}

// NewScores calculates every score given the predicted and actual input slice values
func NewScores(predicted, actual []float64) (*Scores, error) {
	mse, err := MSE(predicted, actual)
	if err != nil {
		return nil, fmt.Errorf("unable to compute mean squared error, %w", err)
	}
	mae, err := MAE(predicted, actual)
	if err != nil {
		return nil, fmt.Errorf("unable to compute mean absolute error, %w", err)
	}
	mape, err := MAPE(predicted, actual)
	if err != nil {
		return nil, fmt.Errorf("unable to compute mean absolute percent error, %w", err)
	}
	rs, err := RSquared(predicted, actual)
	if err != nil {
		return nil, fmt.Errorf("unable to compute r-squared, %w", err)
	}

	p, _ := pairs(predicted, actual)
	return &Scores{
		MSE:  mse,
		RMSE: math.Sqrt(mse),
		MAE:  mae,
		MAPE: mape,
		R2:   rs,
		N:    len(p),
	}, nil
}

// MSE computes the mean squared error. A score of 0 means a perfect match with no errors.
func MSE(predicted, actual []float64) (float64, error) {
	p, a := pairs(predicted, actual)
	if err := validate(predicted, actual, p); err != nil {
		return 0, err
	}

	mse := 0.0
	for i := range a {
		mse += math.Pow(a[i]-p[i], 2.0)
	}
	return mse / float64(len(a)), nil
}

// RMSE computes the root mean squared error in the units of the series.
func RMSE(predicted, actual []float64) (float64, error) {
	mse, err := MSE(predicted, actual)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE computes the mean absolute error.
func MAE(predicted, actual []float64) (float64, error) {
	p, a := pairs(predicted, actual)
	if err := validate(predicted, actual, p); err != nil {
		return 0, err
	}

	mae := 0.0
	for i := range a {
		mae += math.Abs(a[i] - p[i])
	}
	return mae / float64(len(a)), nil
}

// MAPE calculates the mean absolute percent error as a percentage. Actual values of zero are
// skipped.
func MAPE(predicted, actual []float64) (float64, error) {
	p, a := pairs(predicted, actual)
	if err := validate(predicted, actual, p); err != nil {
		return 0, err
	}

	mape := 0.0
	var n int
	for i := range a {
		if a[i] == 0 {
			continue
		}
		mape += math.Abs((a[i] - p[i]) / a[i])
		n++
	}
	if n == 0 {
		return 0, ErrNoPairs
	}
	return 100.0 * mape / float64(n), nil
}

// RSquared computes the r squared value between the predicted and actual where 1.0 means perfect
// fit and 0 represents no relationship
func RSquared(predicted, actual []float64) (float64, error) {
	p, a := pairs(predicted, actual)
	if err := validate(predicted, actual, p); err != nil {
		return 0, err
	}
	r2 := stat.RSquaredFrom(p, a, nil)
	if math.IsNaN(r2) {
		return 1.0, nil
	}
	return r2, nil
}

func validate(predicted, actual, p []float64) error {
	if len(predicted) != len(actual) {
		return fmt.Errorf("expected %d, but got %d, %w", len(actual), len(predicted), ErrResLenMismatch)
	}
	if len(p) == 0 {
		return ErrNoPairs
	}
	return nil
}

func pairs(predicted, actual []float64) ([]float64, []float64) {
	if len(predicted) != len(actual) {
		return nil, nil
	}
	p := make([]float64, 0, len(predicted))
	a := make([]float64, 0, len(actual))
	for i := range predicted {
		if math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) {
			continue
		}
		p = append(p, predicted[i])
		a = append(a, actual[i])
	}
	return p, a
}
