package stats

import (
	"math"
	"sort"
	"strconv"
)

// Summary describes a distribution of values. Every field except Count is nil
// when the distribution is empty, so an absent statistic never reads as zero.
type Summary struct {
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	Median *float64 `json:"median"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	P75    *float64 `json:"p75"`
	P95    *float64 `json:"p95"`
}

// Percentile returns the linearly interpolated p-th percentile of an ascending
// slice. The rank is (n-1)*p/100 and the result is weighted between the floor
// and ceiling elements. An empty slice yields 0.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := float64(len(sorted)-1) * p / 100
	lo := int(idx)
	if lo < 0 {
		lo = 0
	}
	if lo > len(sorted)-1 {
		lo = len(sorted) - 1
	}
	hi := lo + 1
	if hi > len(sorted)-1 {
		hi = len(sorted) - 1
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Summarize sorts a copy of values and reports count, mean, median, min, max,
// p75 and p95, each rounded to one decimal place.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)

	total := 0.0
	for _, v := range s {
		total += v
	}
	return Summary{
		Count:  len(s),
		Mean:   ptr(Round1(total / float64(len(s)))),
		Median: ptr(Round1(Percentile(s, 50))),
		Min:    ptr(Round1(s[0])),
		Max:    ptr(Round1(s[len(s)-1])),
		P75:    ptr(Round1(Percentile(s, 75))),
		P95:    ptr(Round1(Percentile(s, 95))),
	}
}

// Round1 rounds v to one decimal place, deciding on the exact binary value
// and sending exact ties to the even digit: 1000.25 gives 1000.2, 0.45 gives
// 0.5 because 0.45 is stored slightly above the tie.
func Round1(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 1, 64), 64)
	return r
}

// Percent returns 100*subset/total rounded half to even, or 0 when total is 0.
func Percent(subset, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.RoundToEven(100 * float64(subset) / float64(total)))
}

func ptr(v float64) *float64 { return &v }
