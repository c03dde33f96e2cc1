// Package stats computes descriptive statistics over validated equipment tables.
//
// Compute is pure: it performs no I/O and has no side effects, so it is used
// both at ingestion time and to re-aggregate records reloaded from storage.
package stats

import (
	"math"

	"chemviz/internal/schema"
)

// Precision is the number of decimal places every statistic is rounded to.
const Precision = 4

// Summary describes one numeric column.
//
// Std is the sample standard deviation (N-1 denominator). It is nil when it
// cannot be computed (fewer than two rows); nil is deliberately distinct from 0.
type Summary struct {
	Mean float64  `json:"mean"`
	Min  float64  `json:"min"`
	Max  float64  `json:"max"`
	Std  *float64 `json:"std"`
}

// Statistics is the aggregate view of a table.
type Statistics struct {
	Count            int            `json:"total_equipment"`
	Flowrate         Summary        `json:"flowrate"`
	Pressure         Summary        `json:"pressure"`
	Temperature      Summary        `json:"temperature"`
	TypeDistribution map[string]int `json:"type_distribution"`
}

// Column returns the summary for a numeric field.
func (s Statistics) Column(f schema.Field) Summary {
	switch f {
	case schema.Flowrate:
		return s.Flowrate
	case schema.Pressure:
		return s.Pressure
	case schema.Temperature:
		return s.Temperature
	}
	return Summary{}
}

// Empty returns the statistics reported for a dataset with no records:
// every numeric field zero and an empty distribution.
func Empty() Statistics {
	zero := 0.0
	z := Summary{Std: &zero}
	return Statistics{
		Flowrate:         z,
		Pressure:         cloneSummary(z),
		Temperature:      cloneSummary(z),
		TypeDistribution: map[string]int{},
	}
}

// Compute aggregates a table. It never fails; an empty or nil table yields Empty().
func Compute(t *schema.Table) Statistics {
	if t.Len() == 0 {
		return Empty()
	}

	dist := make(map[string]int)
	for _, r := range t.Rows {
		dist[r.EquipmentType]++
	}

	return Statistics{
		Count:            len(t.Rows),
		Flowrate:         summarize(t.Rows, schema.Flowrate),
		Pressure:         summarize(t.Rows, schema.Pressure),
		Temperature:      summarize(t.Rows, schema.Temperature),
		TypeDistribution: dist,
	}
}

func summarize(rows []schema.Row, f schema.Field) Summary {
	n := float64(len(rows))
	lo, hi := math.Inf(1), math.Inf(-1)
	var sum float64
	for _, r := range rows {
		v := r.Value(f)
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / n

	// Near the float64 limit the plain sums overflow; redo them on values
	// scaled by the largest magnitude so the result stays finite.
	scale := math.Max(math.Abs(lo), math.Abs(hi))
	if math.IsInf(mean, 0) {
		var scaled float64
		for _, r := range rows {
			scaled += r.Value(f) / scale
		}
		mean = scaled / n * scale
	}

	s := Summary{
		Mean: Round(mean),
		Min:  Round(lo),
		Max:  Round(hi),
	}
	if len(rows) < 2 {
		return s
	}

	// Two-pass variance around the unrounded mean.
	var ss float64
	for _, r := range rows {
		d := r.Value(f) - mean
		ss += d * d
	}
	std := math.Sqrt(ss / (n - 1))
	if math.IsInf(std, 0) {
		ss = 0
		for _, r := range rows {
			d := r.Value(f)/scale - mean/scale
			ss += d * d
		}
		// The true deviation can exceed the float64 range; saturate.
		std = math.Min(scale*math.Sqrt(ss/(n-1)), math.MaxFloat64)
	}
	std = Round(std)
	s.Std = &std
	return s
}

// Round rounds x to Precision decimal places, half away from zero.
// Magnitudes of 1e15 and above have no fractional digits left to round and
// are returned unchanged, which also keeps x*1e4 from overflowing.
func Round(x float64) float64 {
	const scale = 1e4
	if math.Abs(x) >= 1e15 {
		return x
	}
	return math.Round(x*scale) / scale
}

func cloneSummary(s Summary) Summary {
	if s.Std != nil {
		v := *s.Std
		s.Std = &v
	}
	return s
}
