// Package country resolves ISO 3166 country identities and per-capita GDP.
package country

import (
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quakeloss/internal/refdata"
)

// Country is one row of the country registry.
type Country struct {
	Name     string `json:"name"`
	LongName string `json:"long_name"`
	ISO2     string `json:"iso2"`
	ISO3     string `json:"iso3"`
	ISON     int    `json:"ison"`
}

// Unknown is returned for codes the registry does not hold.
var Unknown = Country{Name: "Unknown", LongName: "Unknown", ISO2: "UK", ISO3: "UKN", ISON: 0}

// USCode is the ISO numeric code of the United States.
const USCode = 840

// USRegion reports whether code is one of the sub-national US regions
// (California, eastern US, western US) that carry their own loss models.
func USRegion(code int) bool {
	return code == 902 || code == 903 || code == 904
}

// NormalizeUS maps the US sub-regions onto the national code.
func NormalizeUS(code int) int {
	if USRegion(code) {
		return USCode
	}
	return code
}

// Registry indexes countries by numeric, two-letter and three-letter codes.
type Registry struct {
	list   []Country
	byNum  map[int]int
	byISO2 map[string]int
	byISO3 map[string]int
}

// NewRegistry indexes the given countries. The first entry wins on
// duplicate codes. Blank short names fall back to the long name.
func NewRegistry(countries []Country) *Registry {
	r := &Registry{
		byNum:  make(map[int]int, len(countries)),
		byISO2: make(map[string]int, len(countries)),
		byISO3: make(map[string]int, len(countries)),
	}
	for _, c := range countries {
		if c.Name == "" {
			c.Name = c.LongName
		}
		c.ISO2 = strings.ToUpper(c.ISO2)
		c.ISO3 = strings.ToUpper(c.ISO3)
		i := len(r.list)
		r.list = append(r.list, c)
		if _, dup := r.byNum[c.ISON]; !dup {
			r.byNum[c.ISON] = i
		}
		if _, dup := r.byISO2[c.ISO2]; c.ISO2 != "" && !dup {
			r.byISO2[c.ISO2] = i
		}
		if _, dup := r.byISO3[c.ISO3]; c.ISO3 != "" && !dup {
			r.byISO3[c.ISO3] = i
		}
	}
	return r
}

// Len returns the number of countries.
func (r *Registry) Len() int { return len(r.list) }

// Codes returns every numeric code in registry order.
func (r *Registry) Codes() []int {
	out := make([]int, len(r.list))
	for i, c := range r.list {
		out[i] = c.ISON
	}
	return out
}

// ByCode returns the country with a numeric code.
func (r *Registry) ByCode(code int) (Country, bool) {
	i, ok := r.byNum[code]
	if !ok {
		return Unknown, false
	}
	return r.list[i], true
}

// Lookup resolves a numeric code, ISO2, ISO3 or a case-insensitive name
// fragment. Name fragments match the first country in registry order.
func (r *Registry) Lookup(value string) (Country, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Unknown, false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return r.ByCode(n)
	}
	upper := strings.ToUpper(value)
	switch len(value) {
	case 2:
		if i, ok := r.byISO2[upper]; ok {
			return r.list[i], true
		}
		return Unknown, false
	case 3:
		if i, ok := r.byISO3[upper]; ok {
			return r.list[i], true
		}
		return Unknown, false
	}
	lower := strings.ToLower(value)
	for _, c := range r.list {
		if strings.Contains(strings.ToLower(c.Name), lower) {
			return c, true
		}
	}
	return Unknown, false
}

// ISO2 returns the two-letter code for a numeric code, "UK" when unknown.
func (r *Registry) ISO2(code int) string {
	c, _ := r.ByCode(code)
	return c.ISO2
}

var registryColumns = []string{"LongName", "ISO2", "ISO3", "ISON", "Name"}

// LoadXLSX reads the countries workbook (first sheet, header on row 0).
func LoadXLSX(path string) (*Registry, error) {
	sheet, err := refdata.ReadXLSX(path, refdata.XLSXOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "country: read workbook")
	}
	return fromSheet(sheet)
}

// LoadCSV reads a countries CSV with columns LongName, ISO2, ISO3, ISON
// and Name.
func LoadCSV(r io.Reader) (*Registry, error) {
	sheet, err := refdata.ReadCSV(r, refdata.CSVOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "country: read csv")
	}
	return fromSheet(sheet)
}

func fromSheet(sheet *refdata.Sheet) (*Registry, error) {
	cols, err := sheet.MustCols(registryColumns...)
	if err != nil {
		return nil, eris.Wrapf(err, "country: registry must contain columns %v", registryColumns)
	}
	countries := make([]Country, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		n, ok := refdata.Int(row, cols[3])
		if !ok {
			continue
		}
		countries = append(countries, Country{
			LongName: refdata.Cell(row, cols[0]),
			ISO2:     refdata.Cell(row, cols[1]),
			ISO3:     refdata.Cell(row, cols[2]),
			ISON:     n,
			Name:     refdata.Cell(row, cols[4]),
		})
	}
	if len(countries) == 0 {
		return nil, eris.New("country: registry is empty")
	}
	return NewRegistry(countries), nil
}
