package country

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/quakeloss/internal/refdata"
)

func testRegistry() *Registry {
	return NewRegistry([]Country{
		{LongName: "Republic of Chile", Name: "Chile", ISO2: "CL", ISO3: "CHL", ISON: 152},
		{LongName: "Equatorial Guinea", Name: "Equatorial Guinea", ISO2: "GQ", ISO3: "GNQ", ISON: 226},
		{LongName: "Guinea", Name: "Guinea", ISO2: "GN", ISO3: "GIN", ISON: 324},
		{LongName: "United States of America", Name: "United States", ISO2: "US", ISO3: "USA", ISON: 840},
		{LongName: "California", Name: "", ISO2: "XF", ISO3: "XF", ISON: 902},
	})
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()
	reg := testRegistry()
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"152", 152, true},
		{"cl", 152, true},
		{"CHL", 152, true},
		{"guinea", 226, true},
		{"united states", 840, true},
		{"", 0, false},
		{"ZZ", 0, false},
		{"ZZZ", 0, false},
		{"atlantis", 0, false},
	}
	for _, tt := range tests {
		c, ok := reg.Lookup(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, c.ISON, tt.in)
	}

	c, _ := reg.ByCode(902)
	assert.Equal(t, "California", c.Name, "blank name falls back to long name")
	assert.Equal(t, "UK", reg.ISO2(999))
	assert.Equal(t, 5, reg.Len())
}

func TestNormalizeUS(t *testing.T) {
	t.Parallel()
	assert.Equal(t, USCode, NormalizeUS(903))
	assert.Equal(t, 152, NormalizeUS(152))
	assert.True(t, USRegion(904))
	assert.False(t, USRegion(840))
}

func TestLoadCSV(t *testing.T) {
	t.Parallel()
	in := "LongName,ISO2,ISO3,ISON,Name\nRepublic of Chile,CL,CHL,152,Chile\nbad,XX,XXX,,Bad\n"
	reg, err := LoadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	_, err = LoadCSV(strings.NewReader("ISO2,ISON\nCL,152\n"))
	assert.ErrorContains(t, err, "must contain columns")
}

func TestLoadXLSX(t *testing.T) {
	t.Parallel()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, r := range [][]string{
		{"LongName", "ISO2", "ISO3", "ISON", "Name"},
		{"Japan", "JP", "JPN", "392", "Japan"},
	} {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "countries.xlsx")
	require.NoError(t, f.Save(path))

	reg, err := LoadXLSX(path)
	require.NoError(t, err)
	c, ok := reg.Lookup("JPN")
	require.True(t, ok)
	assert.Equal(t, 392, c.ISON)
}

func TestGDPPerCapita(t *testing.T) {
	t.Parallel()
	sheet := &refdata.Sheet{
		Header: []string{"Country Name", "Country Code", "2010", "2011", "2012"},
		Rows: [][]string{
			{"Chile", "CHL", "12000", "13000", ""},
			{"United States", "USA", "48000", "49500", "51000"},
		},
	}
	g, err := gdpFromSheet(sheet, testRegistry())
	require.NoError(t, err)

	tests := []struct {
		name string
		code int
		year int
		want float64
		iso  string
	}{
		{"exact year", 152, 2011, 13000, "CHL"},
		{"before series", 152, 1990, 12000, "CHL"},
		{"missing year uses latest", 152, 2012, 13000, "CHL"},
		{"after series", 840, 2020, 51000, "USA"},
		{"us region", 902, 2010, 48000, "US"},
		{"no series", 226, 2010, GlobalGDP, ""},
		{"unknown code", 999, 2010, GlobalGDP, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, iso := g.PerCapita(tt.code, tt.year)
			assert.InDelta(t, tt.want, v, 1e-9)
			assert.Equal(t, tt.iso, iso)
		})
	}

	_, err = gdpFromSheet(&refdata.Sheet{Header: []string{"x"}}, testRegistry())
	assert.Error(t, err)
}
