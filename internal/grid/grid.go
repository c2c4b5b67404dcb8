// Package grid holds the raster model used by the loss engine and aligns
// reference rasters onto a shaking grid.
package grid

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/quakeloss/internal/model"
)

// geoTolerance is the slack used when comparing grid geometry, in degrees.
const geoTolerance = 1e-9

// GeoDict describes a regular lon/lat grid. XMin/XMax/YMin/YMax are the
// coordinates of the outermost cell centres; row 0 is the northern edge.
type GeoDict struct {
	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
	DX   float64 `json:"dx"`
	DY   float64 `json:"dy"`
	NX   int     `json:"nx"`
	NY   int     `json:"ny"`
}

// NewGeoDict builds a GeoDict from the lower-left cell centre, cell size and
// dimensions.
func NewGeoDict(xmin, ymin, dx, dy float64, nx, ny int) GeoDict {
	return GeoDict{
		XMin: xmin,
		XMax: xmin + float64(nx-1)*dx,
		YMin: ymin,
		YMax: ymin + float64(ny-1)*dy,
		DX:   dx,
		DY:   dy,
		NX:   nx,
		NY:   ny,
	}
}

// Validate checks that the geometry is usable.
func (g GeoDict) Validate() error {
	if g.NX <= 0 || g.NY <= 0 {
		return eris.Errorf("grid: invalid dimensions %dx%d", g.NX, g.NY)
	}
	if g.DX <= 0 || g.DY <= 0 {
		return eris.Errorf("grid: invalid cell size %gx%g", g.DX, g.DY)
	}
	return nil
}

// Equal reports whether two geometries describe the same cells.
func (g GeoDict) Equal(o GeoDict) bool {
	return g.NX == o.NX && g.NY == o.NY &&
		near(g.XMin, o.XMin) && near(g.YMin, o.YMin) &&
		near(g.DX, o.DX) && near(g.DY, o.DY)
}

// Bounds returns the outer edges of the grid footprint.
func (g GeoDict) Bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(
		g.XMin-g.DX/2, g.YMin-g.DY/2,
		g.XMax+g.DX/2, g.YMax+g.DY/2,
	)
}

// CellCenter returns the lon/lat of a cell centre.
func (g GeoDict) CellCenter(row, col int) (x, y float64) {
	return g.XMin + float64(col)*g.DX, g.YMax - float64(row)*g.DY
}

// CellIndex returns the cell containing (x, y). Cells are closed on the
// west/north edge and open on the east/south edge.
func (g GeoDict) CellIndex(x, y float64) (row, col int, ok bool) {
	col = int(math.Floor((x - (g.XMin - g.DX/2)) / g.DX))
	row = int(math.Floor(((g.YMax + g.DY/2) - y) / g.DY))
	if col < 0 || col >= g.NX || row < 0 || row >= g.NY {
		return 0, 0, false
	}
	return row, col, true
}

// Contains reports whether (x, y) falls inside the footprint.
func (g GeoDict) Contains(x, y float64) bool {
	_, _, ok := g.CellIndex(x, y)
	return ok
}

// OverlapArea returns the area (in square degrees) shared by two footprints.
func OverlapArea(a, b *geom.Bounds) float64 {
	if !a.Overlaps(geom.XY, b) {
		return 0
	}
	w := math.Min(a.Max(0), b.Max(0)) - math.Max(a.Min(0), b.Min(0))
	h := math.Min(a.Max(1), b.Max(1)) - math.Max(a.Min(1), b.Min(1))
	if w <= geoTolerance || h <= geoTolerance {
		return 0
	}
	return w * h
}

// Grid is a row-major raster. Missing values are NaN.
type Grid struct {
	GeoDict
	Data []float64
}

// New allocates a grid filled with fill.
func New(gd GeoDict, fill float64) *Grid {
	data := make([]float64, gd.NX*gd.NY)
	for i := range data {
		data[i] = fill
	}
	return &Grid{GeoDict: gd, Data: data}
}

// FromRows builds a grid from a slice of rows; row 0 is northernmost.
func FromRows(gd GeoDict, rows [][]float64) (*Grid, error) {
	if len(rows) != gd.NY {
		return nil, eris.Errorf("grid: have %d rows, geometry wants %d", len(rows), gd.NY)
	}
	g := New(gd, math.NaN())
	for r, row := range rows {
		if len(row) != gd.NX {
			return nil, eris.Errorf("grid: row %d has %d columns, geometry wants %d", r, len(row), gd.NX)
		}
		copy(g.Data[r*gd.NX:(r+1)*gd.NX], row)
	}
	return g, nil
}

// Validate checks the geometry and the data length.
func (g *Grid) Validate() error {
	if err := g.GeoDict.Validate(); err != nil {
		return err
	}
	if len(g.Data) != g.NX*g.NY {
		return eris.Errorf("grid: data length %d does not match %dx%d", len(g.Data), g.NX, g.NY)
	}
	return nil
}

// At returns the value at (row, col).
func (g *Grid) At(row, col int) float64 {
	return g.Data[row*g.NX+col]
}

// Set stores v at (row, col).
func (g *Grid) Set(row, col int, v float64) {
	g.Data[row*g.NX+col] = v
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	data := make([]float64, len(g.Data))
	copy(data, g.Data)
	return &Grid{GeoDict: g.GeoDict, Data: data}
}

// ShakeGrid is the intensity raster of one event.
type ShakeGrid struct {
	Event model.Event
	MMI   *Grid
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= geoTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
