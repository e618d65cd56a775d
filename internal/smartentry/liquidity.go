// liquidity.go holds the pure wave-planning math: how much ask-side
// liquidity sits near the touch, how badly a demand total would eat into it,
// and how the total is sliced into waves.
package smartentry

import "math"

// Level is one ask-ladder entry.
type Level struct {
	Price float64
	Qty   float64
}

// Liquidity summarizes the ask side of a book against a demand total.
type Liquidity struct {
	Best      float64 // best ask price
	Within1   float64 // USD liquidity within +1% of best
	Within3   float64 // USD liquidity within +3% of best
	WCF       float64 // wave coefficient: total / Within1 (+Inf when empty)
	Reduction float64 // size multiplier in (0,1]: min(1, Within1/total)
}

// ComputeLiquidity measures asks against a USD demand total. An empty book
// or zero near-touch liquidity yields WCF = +Inf and Reduction = 0, which
// callers treat as "do not enter here".
func ComputeLiquidity(asks []Level, totalUSD float64) Liquidity {
	if len(asks) == 0 {
		return Liquidity{WCF: math.Inf(1)}
	}

	best := asks[0].Price
	liq := Liquidity{Best: best}
	for _, a := range asks {
		usd := a.Price * a.Qty
		if a.Price <= best*1.01 {
			liq.Within1 += usd
		}
		if a.Price <= best*1.03 {
			liq.Within3 += usd
		}
	}

	if liq.Within1 <= 0 {
		liq.WCF = math.Inf(1)
		return liq
	}
	liq.WCF = totalUSD / liq.Within1
	liq.Reduction = math.Min(1, liq.Within1/totalUSD)
	return liq
}

// WaveCount maps the wave coefficient to a wave count: light demand enters
// at once, heavy demand is spread over up to four waves.
func WaveCount(wcf float64) int {
	switch {
	case wcf <= 0.6:
		return 1
	case wcf <= 1.1:
		return 2
	case wcf <= 1.6:
		return 3
	default:
		return 4
	}
}

// waveWeights are front-loaded so the bulk of the size fills before the
// market can react to the earlier waves.
var waveWeights = [][]float64{
	{1},
	{0.6, 0.4},
	{0.4, 0.35, 0.25},
	{0.35, 0.30, 0.20, 0.15},
}

// WaveWeights returns the size split for n waves (n in 1..4). Each slice
// sums to 1.
func WaveWeights(n int) []float64 {
	if n < 1 {
		n = 1
	}
	if n > len(waveWeights) {
		n = len(waveWeights)
	}
	return waveWeights[n-1]
}
