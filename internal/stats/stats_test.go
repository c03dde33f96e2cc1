package stats

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chemviz/internal/schema"
)

func row(typ string, flow, press, temp float64) schema.Row {
	return schema.Row{EquipmentName: typ, EquipmentType: typ, Flowrate: flow, Pressure: press, Temperature: temp}
}

func TestCompute_KnownValues(t *testing.T) {
	tbl := &schema.Table{Rows: []schema.Row{
		row("pump", 10, 100, 20),
		row("pump", 20, 110, 25),
		row("valve", 30, 120, 30),
		row("reactor", 40, 130, 35),
	}}

	s := Compute(tbl)

	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 25.0, s.Flowrate.Mean)
	assert.Equal(t, 10.0, s.Flowrate.Min)
	assert.Equal(t, 40.0, s.Flowrate.Max)
	require.NotNil(t, s.Flowrate.Std)
	// sample std of 10,20,30,40 = sqrt(500/3)
	assert.Equal(t, 12.9099, *s.Flowrate.Std)

	assert.Equal(t, 115.0, s.Pressure.Mean)
	assert.Equal(t, 27.5, s.Temperature.Mean)
	require.NotNil(t, s.Temperature.Std)
	assert.Equal(t, 6.455, *s.Temperature.Std)

	assert.Equal(t, map[string]int{"pump": 2, "valve": 1, "reactor": 1}, s.TypeDistribution)
}

func TestCompute_RoundsToFourPlaces(t *testing.T) {
	s := Compute(&schema.Table{Rows: []schema.Row{
		row("a", 1, 0, 0),
		row("a", 2, 0, 0),
		row("a", 2, 0, 0),
	}})
	assert.Equal(t, 1.6667, s.Flowrate.Mean)
	require.NotNil(t, s.Flowrate.Std)
	assert.Equal(t, 0.5774, *s.Flowrate.Std)

	// Constant columns have a defined std of exactly zero.
	require.NotNil(t, s.Pressure.Std)
	assert.Equal(t, 0.0, *s.Pressure.Std)
}

func TestCompute_SingleRowStdNotComputable(t *testing.T) {
	s := Compute(&schema.Table{Rows: []schema.Row{row("pump", 12.5, 101.3, 25)}})

	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 12.5, s.Flowrate.Mean)
	assert.Equal(t, 12.5, s.Flowrate.Min)
	assert.Equal(t, 12.5, s.Flowrate.Max)
	assert.Nil(t, s.Flowrate.Std)
	assert.Nil(t, s.Pressure.Std)
	assert.Nil(t, s.Temperature.Std)

	b, err := json.Marshal(s.Flowrate)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mean":12.5,"min":12.5,"max":12.5,"std":null}`, string(b))
}

func TestCompute_Idempotent(t *testing.T) {
	tbl := &schema.Table{Rows: []schema.Row{
		row("pump", 1.25, -3, 400),
		row("valve", 7.5, 2, -12),
		row("pump", 3, 9.75, 8),
	}}

	first := Compute(tbl)
	second := Compute(tbl)
	assert.Equal(t, first, second)
}

func TestCompute_TypeBucketsCaseFolded(t *testing.T) {
	// The validator lower-cases types; Compute buckets on the exact string.
	tbl := &schema.Table{Rows: []schema.Row{
		row("pump", 1, 1, 1),
		row("pump", 2, 2, 2),
		row("pump", 3, 3, 3),
	}}
	assert.Equal(t, map[string]int{"pump": 3}, Compute(tbl).TypeDistribution)
}

func TestCompute_EmptyTable(t *testing.T) {
	for _, tbl := range []*schema.Table{nil, {}} {
		s := Compute(tbl)
		assert.Equal(t, Empty(), s)
		assert.Equal(t, 0, s.Count)
		require.NotNil(t, s.Flowrate.Std)
		assert.Equal(t, 0.0, *s.Flowrate.Std)
		assert.NotNil(t, s.TypeDistribution)
		assert.Empty(t, s.TypeDistribution)
	}
}

func TestEmpty_SummariesDoNotShareStd(t *testing.T) {
	e := Empty()
	*e.Flowrate.Std = 1
	assert.Equal(t, 0.0, *e.Pressure.Std)
	assert.Equal(t, 0.0, *e.Temperature.Std)
}

func TestColumn(t *testing.T) {
	s := Compute(&schema.Table{Rows: []schema.Row{row("x", 1, 2, 3)}})
	assert.Equal(t, s.Flowrate, s.Column(schema.Flowrate))
	assert.Equal(t, s.Pressure, s.Column(schema.Pressure))
	assert.Equal(t, s.Temperature, s.Column(schema.Temperature))
	assert.Equal(t, Summary{}, s.Column(schema.EquipmentName))
}

func TestRound(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.23456, 1.2346},
		{-1.23456, -1.2346},
		{2, 2},
		{0.00004, 0},
		{101.3, 101.3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Round(tt.in), "Round(%v)", tt.in)
	}
}

func TestCompute_HugeFiniteValuesStayFinite(t *testing.T) {
	tests := []struct {
		name string
		rows []schema.Row
		mean float64
	}{
		{"single 1e305", []schema.Row{row("pump", 1e305, 1, 1)}, 1e305},
		{"two near max", []schema.Row{row("pump", 1.7e308, 1, 1), row("pump", 1.7e308, 1, 1)}, 1.7e308},
		{"opposite extremes", []schema.Row{row("pump", -1.7e308, 1, 1), row("pump", 1.7e308, 1, 1)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Compute(&schema.Table{Rows: tt.rows})
			fr := s.Flowrate
			assert.InEpsilon(t, tt.mean+1, fr.Mean+1, 1e-9)
			assert.False(t, math.IsInf(fr.Min, 0) || math.IsInf(fr.Max, 0))
			if fr.Std != nil {
				assert.False(t, math.IsInf(*fr.Std, 0) || math.IsNaN(*fr.Std))
			}

			_, err := json.Marshal(s)
			require.NoError(t, err)
		})
	}
}

func TestRound_LargeMagnitudesUnchanged(t *testing.T) {
	for _, x := range []float64{1e15, -1e15, 1e305, 1.7e308, -math.MaxFloat64} {
		assert.Equal(t, x, Round(x), "Round(%g)", x)
	}
}
