package strategy

// DCA entry timing: a TWAP schedule between the first entry and the
// pre-tipoff cutoff, with a favorable-price early trigger and an
// unfavorable-price deferral.

import "time"

// DCAParams are the accumulation tunables.
type DCAParams struct {
	MaxEntries     int
	MinInterval    time.Duration
	Cutoff         time.Duration // no entries this close to tipoff
	MaxPriceSpread float64       // drift guard vs the first entry price
	MinPriceDipPct float64       // early trigger: price this far under vwap
	DeferRisePct   float64       // deferral: price this far over first entry
}

// DCADecision says whether to add a follow-on entry now, and why not.
type DCADecision struct {
	Add    bool
	Done   bool // the group should transition to executed
	Reason string
}

// ShouldAddEntry decides one group's next move. entriesDone counts placed
// entries including the initial one.
func ShouldAddEntry(
	now, firstEntryAt, lastEntryAt, tipoff time.Time,
	entriesDone int,
	currentPrice, firstPrice, groupVWAP float64,
	p DCAParams,
) DCADecision {
	if entriesDone >= p.MaxEntries {
		return DCADecision{Done: true, Reason: "max_reached"}
	}

	windowEnd := tipoff.Add(-p.Cutoff)
	if !now.Before(windowEnd) {
		return DCADecision{Done: true, Reason: "window_closed"}
	}

	if entriesDone == 0 {
		// The initial entry is the job executor's business, not DCA's.
		return DCADecision{Reason: "no_previous_entry"}
	}

	// Drift guard: the market has moved away from the original thesis.
	if currentPrice-firstPrice > p.MaxPriceSpread {
		return DCADecision{Done: true, Reason: "price_spread_exceeded"}
	}

	// Favorable price beats the schedule: averaging down is the point.
	if groupVWAP > 0 && currentPrice <= groupVWAP*(1-p.MinPriceDipPct) {
		if now.Sub(lastEntryAt) < p.MinInterval {
			return DCADecision{Reason: "too_soon"}
		}
		return DCADecision{Add: true, Reason: "favorable_price"}
	}

	// Unfavorable price defers the scheduled slice; the drift guard above
	// bounds how long this can go on.
	if firstPrice > 0 && currentPrice > firstPrice*(1+p.DeferRisePct) {
		return DCADecision{Reason: "deferred"}
	}

	if now.Sub(lastEntryAt) < p.MinInterval {
		return DCADecision{Reason: "too_soon"}
	}

	if !sliceDue(now, firstEntryAt, windowEnd, entriesDone, p.MaxEntries) {
		return DCADecision{Reason: "slice_not_due"}
	}
	return DCADecision{Add: true, Reason: "scheduled"}
}

// sliceDue spreads the remaining entries evenly between the first entry
// and the window end; entry k (0-based) is due at first + k/(max−1) of the
// span.
func sliceDue(now, first, windowEnd time.Time, entriesDone, maxEntries int) bool {
	if maxEntries <= 1 {
		return false
	}
	span := windowEnd.Sub(first)
	if span <= 0 {
		return true // window nearly closed: fire the remaining slice
	}
	due := first.Add(span * time.Duration(entriesDone) / time.Duration(maxEntries-1))
	return !now.Before(due)
}
