package calibration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quakeloss/internal/country"
	"github.com/sells-group/quakeloss/internal/model"
)

const fatalityXML = `<?xml version="1.0" encoding="US-ASCII" standalone="yes"?>
<models vstr="2.2" type="fatality">
  <model ccode="CL" theta="19.786773" beta="0.259531" gnormvalue="2.272656"/>
  <model ccode="xf" theta="38.053" beta="0.384" gnormvalue="3.1"/>
</models>`

const economicXML = `<?xml version="1.0" encoding="US-ASCII" standalone="yes"?>
<models vstr="1.3" type="economic">
  <model alpha="15.0654" theta="9.0" beta="0.1" gnormvalue="4.1132" ccode="CL"/>
</models>`

const semiYAML = `
countries:
  - code: 840
    weights:
      empirical: 0.6
      semi-empirical: 0.4
    semi:
      urban_fraction: 0.8
      workforce: {total: 0.5, agricultural: 0.02, industrial: 0.2, services: 0.78}
      inventory:
        urban:
          residential: {W1: 0.7, C1: 0.3}
          non_residential: {C1: 1.0}
      collapse:
        W1: [0.0001, 0.001, 0.01, 0.05]
        C1: [0.001, 0.01, 0.05, 0.1]
      casualty:
        W1: {day: 0.01, night: 0.02}
        C1: {day: 0.1, night: 0.15}
      inventory_sigma: 0.3
      collapse_sigma: 0.4
  - code: 152
    fatality_rates: [0, 0, 0, 0, 1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-2]
`

func testRegistry() *country.Registry {
	return country.NewRegistry([]country.Country{
		{Name: "Chile", ISO2: "CL", ISO3: "CHL", ISON: 152},
		{Name: "United States", ISO2: "US", ISO3: "USA", ISON: 840},
		{Name: "California", ISO2: "XF", ISO3: "XF", ISON: 902},
		{Name: "Eastern US", ISO2: "EU", ISO3: "EU", ISON: 903},
	})
}

func TestLognormalRate(t *testing.T) {
	t.Parallel()
	def := DefaultLognormal()
	assert.InDelta(t, 0.5, def.Rate(16), 1e-12, "rate at theta is one half")
	assert.Less(t, def.Rate(5), def.Rate(9), "monotone in intensity")
	assert.Zero(t, def.Rate(0))
	assert.Zero(t, Lognormal{}.Rate(8))
	assert.True(t, def.Valid())
	assert.False(t, Lognormal{Theta: 1}.Valid())
}

func TestLoadModelsXML(t *testing.T) {
	t.Parallel()
	set, err := LoadModelsXML(strings.NewReader(fatalityXML))
	require.NoError(t, err)
	assert.Equal(t, model.LossFatality, set.Kind)
	assert.Equal(t, "2.2", set.Version)
	require.Contains(t, set.Models, "XF", "codes are upper-cased")
	assert.InDelta(t, 19.786773, set.Models["CL"].Theta, 1e-12)
	assert.InDelta(t, 1.0, set.Models["CL"].Alpha, 1e-12)

	econ, err := LoadModelsXML(strings.NewReader(economicXML))
	require.NoError(t, err)
	assert.Equal(t, model.LossEconomic, econ.Kind)
	assert.InDelta(t, 15.0654, econ.Models["CL"].Alpha, 1e-12)
}

func TestLoadModelsXML_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"bad type", `<models type="injury"></models>`, "fatality or economic"},
		{"missing ccode", `<models type="fatality"><model theta="1" beta="1" gnormvalue="1"/></models>`, "without ccode"},
		{"bad params", `<models type="fatality"><model ccode="CL" theta="0" beta="1" gnormvalue="1"/></models>`, "invalid parameters"},
		{"malformed", `<models`, "parse models"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadModelsXML(strings.NewReader(tt.in))
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	f, err := LoadYAML(strings.NewReader(semiYAML))
	require.NoError(t, err)
	require.Len(t, f.Countries, 2)
	us := f.Countries[0]
	require.NotNil(t, us.Semi)
	assert.InDelta(t, 0.8, us.Semi.UrbanFraction, 1e-12)
	assert.InDelta(t, 0.3, us.Semi.Inventory[Urban].Residential["C1"], 1e-12)
	assert.Len(t, us.Semi.Collapse["W1"], 4)

	empty, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty.Countries)
}

func TestLoadYAML_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"unknown field", "countries:\n  - code: 1\n    colour: red\n", "parse yaml"},
		{"bad code", "countries:\n  - code: 0\n", "positive"},
		{"duplicate", "countries:\n  - code: 4\n  - code: 4\n", "twice"},
		{"short rates", "countries:\n  - code: 4\n    fatality_rates: [1, 2]\n", "10 values"},
		{"negative weight", "countries:\n  - code: 4\n    weights: {empirical: -1}\n", "negative"},
		{"urban fraction", "countries:\n  - code: 4\n    semi: {urban_fraction: 2}\n", "urban_fraction"},
		{"collapse length", "countries:\n  - code: 4\n    semi:\n      collapse: {A: [0.1]}\n", "MMI 6-9"},
		{"density", "countries:\n  - code: 4\n    semi:\n      inventory: {suburban: {}}\n", "density"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadYAML(strings.NewReader(tt.in))
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()
	fat, err := LoadModelsXML(strings.NewReader(fatalityXML))
	require.NoError(t, err)
	econ, err := LoadModelsXML(strings.NewReader(economicXML))
	require.NoError(t, err)
	file, err := LoadYAML(strings.NewReader(semiYAML))
	require.NoError(t, err)

	cat := Build(testRegistry(), fat, econ, file)
	assert.Equal(t, 4, cat.Len())

	cl, ok := cat.Lookup(152)
	require.True(t, ok)
	require.NotNil(t, cl.Fatality)
	require.NotNil(t, cl.Economic)
	assert.Len(t, cl.FatalityRates, 10)

	ca, ok := cat.Lookup(902)
	require.True(t, ok)
	require.NotNil(t, ca.Fatality, "California has its own curve")
	assert.Nil(t, ca.Semi, "California does not inherit national building data")

	east, ok := cat.Lookup(903)
	require.True(t, ok)
	assert.Nil(t, east.Fatality)
	require.NotNil(t, east.Semi)
	assert.InDelta(t, 0.5, east.Semi.Workforce.Total, 1e-12)

	def, ok := cat.Default()
	require.True(t, ok)
	assert.Equal(t, DefaultLognormal(), *def.Fatality)

	_, ok = cat.Lookup(4)
	assert.False(t, ok)
}

func TestCatalogReturnsCopies(t *testing.T) {
	t.Parallel()
	cat := NewCatalog(nil, CountryCalibration{
		Code:    36,
		Weights: map[string]float64{"empirical": 1},
		Semi:    &Semi{Collapse: map[string][]float64{"A": {1, 2, 3, 4}}},
	})
	a, _ := cat.Lookup(36)
	a.Weights["empirical"] = 0
	a.Semi.Collapse["A"][0] = 99

	b, _ := cat.Lookup(36)
	assert.InDelta(t, 1.0, b.Weights["empirical"], 1e-12)
	assert.InDelta(t, 1.0, b.Semi.Collapse["A"][0], 1e-12)

	_, ok := cat.Default()
	assert.False(t, ok)
}
