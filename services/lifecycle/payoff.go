package lifecycle

// Payoff is the settlement split of the grantor's principal collateral,
// plus the number of filler tokens that must be burned alongside it.
type Payoff struct {
	Returned     uint64
	Burned       uint64
	FillerBurned uint64
}

// PayoffFunc derives the settlement split from the contract terms and
// the attested price. The exact coefficients are a protocol parameter;
// the engine only requires conservation (Burned+Returned == principal)
// and monotonicity in priceNow.
type PayoffFunc func(strike, priceNow, principal, incentiveBps, fillerPerPrincipal uint64) Payoff

// ReferencePayoff is the default payoff schedule.
//
// The grantor's base entitlement is the principal scaled by
// strike/max(strike, priceNow): at or below strike the full principal,
// above strike a share shrinking as the price moves away. The taker's
// incentive is carved out of the base in basis points; whatever the
// grantor does not take back is burned, together with the matching
// filler token lots.
func ReferencePayoff(strike, priceNow, principal, incentiveBps, fillerPerPrincipal uint64) Payoff {
	denominator := strike
	if priceNow > strike {
		denominator = priceNow
	}

	base := mulDiv(principal, strike, denominator)
	incentive := mulDiv(base, incentiveBps, 10_000)
	returned := base - incentive
	burned := principal - returned

	return Payoff{
		Returned:     returned,
		Burned:       burned,
		FillerBurned: burned * fillerPerPrincipal,
	}
}

// mulDiv computes a*b/c without intermediate uint64 overflow for the
// magnitudes the protocol uses (values and prices fit in 64 bits but
// their product may not).
func mulDiv(a, b, c uint64) uint64 {
	hi := a / c
	lo := a % c

	return hi*b + lo*b/c
}
