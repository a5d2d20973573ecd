package forecaster

import (
	"fmt"
	"io"
	"strings"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/store"
)

// Results describes one incremental forecasting run.
type Results struct {
	Status    store.Status `json:"status"`
	ModelName string       `json:"model_name"`

	// Absorbed is the number of observed months folded into the model state.
	Absorbed        int             `json:"absorbed"`
	Imputed         []period.Period `json:"imputed,omitempty"`
	AbsorbedFrom    period.Period   `json:"absorbed_from"`
	AbsorbedThrough period.Period   `json:"absorbed_through"`
	Version         int64           `json:"version"`

	Target    period.Period `json:"target"`
	Primary   *float64      `json:"primary"`
	Benchmark *float64      `json:"benchmark"`

	Details string `json:"details"`
}

// TrainResults describes one training run.
type TrainResults struct {
	Status    store.Status  `json:"status"`
	ModelName string        `json:"model_name"`
	From      period.Period `json:"trained_from"`
	Through   period.Period `json:"trained_through"`
	Rows      int           `json:"rows"`
	Location  string        `json:"saved_location"`
	Version   int64         `json:"version"`
	Params    *Params       `json:"params,omitempty"`
	Details   string        `json:"details"`
}

func formatValue(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.3f", *v)
}

// TablePrint writes a human readable summary of the run.
func (r *Results) TablePrint(w io.Writer, prefix, indent string) error {
	rows := []string{
		fmt.Sprintf("%s%s: %s\n", prefix, r.ModelName, r.Status),
		fmt.Sprintf("%s%sAbsorbed: %d observation(s), %s to %s (version %d)\n",
			prefix, indent, r.Absorbed, r.AbsorbedFrom, r.AbsorbedThrough, r.Version),
	}
	if len(r.Imputed) > 0 {
		imputed := make([]string, 0, len(r.Imputed))
		for _, p := range r.Imputed {
			imputed = append(imputed, p.String())
		}
		rows = append(rows, fmt.Sprintf("%s%sImputed: %s\n", prefix, indent, strings.Join(imputed, ", ")))
	}
	if !r.Target.IsZero() {
		rows = append(rows, fmt.Sprintf("%s%sForecast %s: primary %s    benchmark %s\n",
			prefix, indent, r.Target, formatValue(r.Primary), formatValue(r.Benchmark)))
	}
	for _, row := range rows {
		if _, err := io.WriteString(w, row); err != nil {
			return err
		}
	}
	return nil
}

// TablePrint writes a human readable summary of the training run.
func (r *TrainResults) TablePrint(w io.Writer, prefix, indent string) error {
	rows := []string{
		fmt.Sprintf("%s%s: %s\n", prefix, r.ModelName, r.Status),
		fmt.Sprintf("%s%sTrained: %d row(s), %s to %s (version %d)\n",
			prefix, indent, r.Rows, r.From, r.Through, r.Version),
	}
	if r.Location != "" {
		rows = append(rows, fmt.Sprintf("%s%sSaved: %s\n", prefix, indent, r.Location))
	}
	if r.Params != nil {
		rows = append(rows, fmt.Sprintf("%s%sOrder: %s    AIC: %.3f    BIC: %.3f\n",
			prefix, indent, r.Params.Order, r.Params.AIC, r.Params.BIC))
	}
	for _, row := range rows {
		if _, err := io.WriteString(w, row); err != nil {
			return err
		}
	}
	return nil
}
