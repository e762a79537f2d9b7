package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	payoffStrike    = uint64(25)
	payoffPrincipal = uint64(2000)
	payoffBps       = uint64(1000)
	payoffFiller    = uint64(100)
)

func TestReferencePayoffVectors(t *testing.T) {
	tests := []struct {
		name     string
		priceNow uint64
		want     Payoff
	}{
		{
			name:     "price above strike",
			priceNow: 50,
			want:     Payoff{Returned: 900, Burned: 1100, FillerBurned: 110_000},
		},
		{
			name:     "price at strike",
			priceNow: 25,
			want:     Payoff{Returned: 1800, Burned: 200, FillerBurned: 20_000},
		},
		{
			name:     "price below strike",
			priceNow: 10,
			want:     Payoff{Returned: 1800, Burned: 200, FillerBurned: 20_000},
		},
		{
			name:     "price far above strike",
			priceNow: 100,
			want:     Payoff{Returned: 450, Burned: 1550, FillerBurned: 155_000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReferencePayoff(payoffStrike, tt.priceNow, payoffPrincipal, payoffBps, payoffFiller)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReferencePayoffNoIncentive(t *testing.T) {
	got := ReferencePayoff(payoffStrike, 50, payoffPrincipal, 0, payoffFiller)
	assert.Equal(t, Payoff{Returned: 1000, Burned: 1000, FillerBurned: 100_000}, got)
}

func TestReferencePayoffConservation(t *testing.T) {
	for priceNow := uint64(1); priceNow <= 500; priceNow++ {
		got := ReferencePayoff(payoffStrike, priceNow, payoffPrincipal, payoffBps, payoffFiller)

		assert.Equal(t, payoffPrincipal, got.Returned+got.Burned, "price %d", priceNow)
		assert.Equal(t, got.Burned*payoffFiller, got.FillerBurned, "price %d", priceNow)
	}
}

func TestReferencePayoffMonotonicity(t *testing.T) {
	prev := ReferencePayoff(payoffStrike, 1, payoffPrincipal, payoffBps, payoffFiller)

	for priceNow := uint64(2); priceNow <= 500; priceNow++ {
		got := ReferencePayoff(payoffStrike, priceNow, payoffPrincipal, payoffBps, payoffFiller)

		assert.LessOrEqual(t, got.Returned, prev.Returned, "returned share must not grow with the price at %d", priceNow)
		assert.GreaterOrEqual(t, got.Burned, prev.Burned, "burned share must not shrink with the price at %d", priceNow)

		prev = got
	}
}

func TestReferencePayoffDeterministic(t *testing.T) {
	a := ReferencePayoff(payoffStrike, 73, payoffPrincipal, payoffBps, payoffFiller)
	b := ReferencePayoff(payoffStrike, 73, payoffPrincipal, payoffBps, payoffFiller)
	assert.Equal(t, a, b)
}

func TestMulDivLargeOperands(t *testing.T) {
	// principal * strike would overflow a uint64 if computed naively.
	principal := uint64(1) << 40
	strike := uint64(1) << 30

	got := mulDiv(principal, strike, strike)
	assert.Equal(t, principal, got)
}
