package exposure

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/quakeloss/internal/refdata"
)

func testGrowth() *Growth {
	return NewGrowth(map[int][]RatePeriod{
		152: {
			{Start: 2000, End: 2005, Rate: 0.01},
			{Start: 2005, End: 2010, Rate: 0.02},
			{Start: 2010, End: 2015, Rate: 0.03},
		},
	}, 0)
}

func TestGrowth_Rate(t *testing.T) {
	t.Parallel()
	g := testGrowth()
	tests := []struct {
		name string
		code int
		year int
		want float64
	}{
		{"unknown country uses default", 999, 2010, DefaultGrowthRate},
		{"before first period", 152, 1990, 0.01},
		{"after last period", 152, 2030, 0.03},
		{"closest end year", 152, 2006, 0.01},
		{"exact end year", 152, 2010, 0.02},
		{"late in range", 152, 2013, 0.03},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, g.Rate(tt.code, tt.year), 1e-12)
		})
	}
}

func TestGrowth_Factor(t *testing.T) {
	t.Parallel()
	g := testGrowth()
	assert.InDelta(t, 1.0, g.Factor(999, 2015, 2015), 1e-12)
	assert.InDelta(t, 1.0117*1.0117, g.Factor(999, 2015, 2017), 1e-12)
	assert.InDelta(t, 1/(1.0117*1.0117), g.Factor(999, 2017, 2015), 1e-12)
	assert.InDelta(t, 1.0, g.Factor(152, 2012, 2016)*g.Factor(152, 2016, 2012), 1e-12)
}

func TestGrowth_Apply(t *testing.T) {
	t.Parallel()
	g := testGrowth()
	a := aligned(2, 1, []float64{6, math.NaN()}, []float64{1000, 1000}, []int{999, 999})
	require.NoError(t, g.Apply(a, 2015, 2016))
	assert.InDelta(t, 1011.7, a.Population[0], 1e-9)
	assert.InDelta(t, 1000.0, a.Population[1], 1e-9, "invalid cells untouched")

	require.NoError(t, g.Apply(a, 2000, 2012), "old data only warns")

	err := g.Apply(a, 1990, 2015)
	assert.ErrorContains(t, err, "more than 20 years")
}

func TestGrowthFromSheet(t *testing.T) {
	t.Parallel()
	sheet := &refdata.Sheet{
		Header: []string{"Index", "Country code", "2005-2010", "2010-2015"},
		Rows: [][]string{
			{"1", "840", "0.9", "0.75"},
			{"2", "152", "1.1", ""},
			{"3", "", "1", "1"},
		},
	}
	g, err := growthFromSheet(sheet, "Country code")
	require.NoError(t, err)
	assert.InDelta(t, 0.0075, g.Rate(840, 2014), 1e-12)
	assert.InDelta(t, 0.0075, g.Rate(903, 2014), 1e-12, "US regions share national rates")
	assert.InDelta(t, 0.011, g.Rate(152, 2030), 1e-12)

	_, err = growthFromSheet(&refdata.Sheet{Header: []string{"x"}}, "Country code")
	assert.Error(t, err)
	_, err = growthFromSheet(&refdata.Sheet{Header: []string{"Country code", "rate"}}, "Country code")
	assert.ErrorContains(t, err, "period columns")
}

func TestLoadGrowthXLSX(t *testing.T) {
	t.Parallel()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("ESTIMATES")
	require.NoError(t, err)
	for _, r := range [][]string{
		{"United Nations"},
		{"Country code", "2010-2015"},
		{"36", "1.5"},
	} {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "growth.xlsx")
	require.NoError(t, f.Save(path))

	g, err := LoadGrowthXLSX(path, GrowthXLSXOptions{HeaderRow: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.015, g.Rate(36, 2012), 1e-12)
}
