// Package ledger answers which month the observation store has reached and which month is
// expected next.
package ledger

import (
	"context"
	"fmt"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/store"
)

// Ledger reads the high-water mark of an observation store.
type Ledger struct {
	obs store.ObservationStore
}

func New(obs store.ObservationStore) *Ledger {
	return &Ledger{obs: obs}
}

// Latest returns the maximum stored period, false when nothing has been ingested.
func (l *Ledger) Latest(ctx context.Context) (period.Period, bool, error) {
	p, ok, err := l.obs.LatestPeriod(ctx)
	if err != nil {
		return period.Period{}, false, fmt.Errorf("unable to read latest period, %w, %w", err, store.ErrTransientIO)
	}
	return p, ok, nil
}

// NextExpected is the calendar month following p.
func NextExpected(p period.Period) period.Period {
	return p.Next()
}
