// Package shapes reads administrative polygons and totals gridded losses
// inside them.
package shapes

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/quakeloss/internal/grid"
)

// Shape is one polygon record. Each shapefile part is kept as its own
// ring; holes are resolved with the even-odd rule.
type Shape struct {
	ID         string
	Attributes map[string]string
	Rings      *geom.MultiPolygon
	bounds     *geom.Bounds
}

// NewShape builds a Shape from rings of x,y pairs.
func NewShape(id string, attrs map[string]string, rings ...[]geom.Coord) (Shape, error) {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i, r := range rings {
		poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{r})
		if err != nil {
			return Shape{}, eris.Wrapf(err, "shapes: ring %d", i)
		}
		if err := mp.Push(poly); err != nil {
			return Shape{}, eris.Wrapf(err, "shapes: ring %d", i)
		}
	}
	return Shape{ID: id, Attributes: attrs, Rings: mp, bounds: mp.Bounds()}, nil
}

// Contains reports whether (x, y) lies inside the shape.
func (s Shape) Contains(x, y float64) bool {
	if s.Rings == nil || s.Rings.NumPolygons() == 0 {
		return false
	}
	b := s.bounds
	if b == nil {
		b = s.Rings.Bounds()
	}
	if x < b.Min(0) || x > b.Max(0) || y < b.Min(1) || y > b.Max(1) {
		return false
	}
	p := geom.Coord{x, y}
	inside := false
	for i := range s.Rings.NumPolygons() {
		ring := s.Rings.Polygon(i).LinearRing(0)
		if xy.IsPointInRing(geom.XY, p, ring.FlatCoords()) {
			inside = !inside
		}
	}
	return inside
}

// Load reads polygon records from a shapefile. idField names the
// attribute used as the shape ID (the record number when blank).
func Load(path, idField string) ([]Shape, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapes: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}
	idIdx := -1
	if idField != "" {
		idIdx = slices.IndexFunc(names, func(n string) bool { return strings.EqualFold(n, idField) })
		if idIdx < 0 {
			return nil, eris.Errorf("shapes: shapefile %s has no field %q", path, idField)
		}
	}

	var out []Shape
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}
		attrs := make(map[string]string, len(names))
		for i, name := range names {
			attrs[name] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		id := strconv.Itoa(n)
		if idIdx >= 0 {
			id = attrs[names[idIdx]]
		}
		s, err := fromPolygon(id, attrs, poly)
		if err != nil {
			skipped++
			zap.L().Debug("shapes: skipping malformed polygon", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	if skipped > 0 {
		zap.L().Debug("shapes: skipped shapefile records", zap.String("path", path), zap.Int("skipped", skipped))
	}
	return out, nil
}

// fromPolygon converts each shapefile part into a ring.
func fromPolygon(id string, attrs map[string]string, p *shp.Polygon) (Shape, error) {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return Shape{}, eris.New("shapes: empty polygon")
	}
	rings := make([][]geom.Coord, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		coords := make([]geom.Coord, 0, end-start)
		for j := start; j < end; j++ {
			coords = append(coords, geom.Coord{p.Points[j].X, p.Points[j].Y})
		}
		if len(coords) < 4 {
			continue
		}
		rings = append(rings, coords)
	}
	if len(rings) == 0 {
		return Shape{}, eris.New("shapes: no usable rings")
	}
	return NewShape(id, attrs, rings...)
}

// ShapeLoss is the loss inside one shape.
type ShapeLoss struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Loss       float64           `json:"loss"`
	Cells      int               `json:"cells"`
}

// LossByShapes totals per-cell losses over the cells whose centres fall
// inside each shape. It returns per-shape totals and their sum.
func LossByShapes(a *grid.Aligned, cellLoss []float64, shapes []Shape) ([]ShapeLoss, float64, error) {
	if len(cellLoss) != a.Len() {
		return nil, 0, eris.Errorf("shapes: %d cell losses for %d cells", len(cellLoss), a.Len())
	}
	out := make([]ShapeLoss, len(shapes))
	totals := make([]float64, len(shapes))
	for k, s := range shapes {
		var vals []float64
		for row := range a.NY {
			for col := range a.NX {
				i := row*a.NX + col
				v := cellLoss[i]
				if v == 0 || math.IsNaN(v) {
					continue
				}
				x, y := a.CellCenter(row, col)
				if s.Contains(x, y) {
					vals = append(vals, v)
				}
			}
		}
		slices.Sort(vals)
		totals[k] = floats.SumCompensated(vals)
		out[k] = ShapeLoss{ID: s.ID, Attributes: s.Attributes, Loss: totals[k], Cells: len(vals)}
	}
	return out, floats.SumCompensated(totals), nil
}
