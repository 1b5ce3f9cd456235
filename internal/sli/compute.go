package sli

import "math"

// ComputeSLI calculates the SLI ratio from good and total event counts.
// ok is false when there is no traffic.
func ComputeSLI(good, total float64) (ratio float64, ok bool) {
	if total <= 0 {
		return 0, false
	}
	if good < 0 {
		good = 0
	}
	// Counter resets can briefly report more good than total events
	if good > total {
		good = total
	}
	return good / total, true
}

// BurnRate is the error rate expressed in multiples of the allowed error fraction
// burn_rate = (1 - ratio) / (1 - target)
func BurnRate(ratio, target float64) float64 {
	allowed := 1 - target
	if allowed <= 0 {
		return 0
	}
	return math.Max(0, 1-ratio) / allowed
}
