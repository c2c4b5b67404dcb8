package shapes

import (
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/quakeloss/internal/grid"
)

func square(x0, y0, x1, y1 float64) []geom.Coord {
	return []geom.Coord{{x0, y0}, {x0, y1}, {x1, y1}, {x1, y0}, {x0, y0}}
}

func TestShapeContains(t *testing.T) {
	t.Parallel()

	donut, err := NewShape("donut", nil, square(0, 0, 10, 10), square(4, 4, 6, 6))
	require.NoError(t, err)

	tests := []struct {
		name string
		x, y float64
		want bool
	}{
		{"inside outer", 1, 1, true},
		{"inside hole", 5, 5, false},
		{"outside bounds", 11, 5, false},
		{"left of shape", -0.5, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, donut.Contains(tt.x, tt.y))
		})
	}
}

func TestShapeContains_Empty(t *testing.T) {
	t.Parallel()
	assert.False(t, Shape{}.Contains(0, 0))
}

func TestFromPolygon(t *testing.T) {
	t.Parallel()

	p := &shp.Polygon{
		NumParts: 2,
		Parts:    []int32{0, 5},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 0, Y: 2}, {X: 2, Y: 2}, {X: 2, Y: 0}, {X: 0, Y: 0},
			{X: 5, Y: 5}, {X: 5, Y: 6}, {X: 6, Y: 6}, {X: 6, Y: 5}, {X: 5, Y: 5},
		},
	}
	s, err := fromPolygon("a", map[string]string{"NAME": "a"}, p)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Rings.NumPolygons())
	assert.True(t, s.Contains(1, 1))
	assert.True(t, s.Contains(5.5, 5.5))
	assert.False(t, s.Contains(3, 3))
}

func TestFromPolygon_Empty(t *testing.T) {
	t.Parallel()

	_, err := fromPolygon("x", nil, &shp.Polygon{})
	require.Error(t, err)

	_, err = fromPolygon("x", nil, &shp.Polygon{
		NumParts: 1,
		Parts:    []int32{0},
		Points:   []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable rings")
}

func writeShapefile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regions.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 20)}))

	west := shp.Polygon(*shp.NewPolyLine([][]shp.Point{{
		{X: -0.5, Y: -0.5}, {X: -0.5, Y: 1.5}, {X: 0.5, Y: 1.5}, {X: 0.5, Y: -0.5}, {X: -0.5, Y: -0.5},
	}}))
	east := shp.Polygon(*shp.NewPolyLine([][]shp.Point{{
		{X: 0.5, Y: -0.5}, {X: 0.5, Y: 1.5}, {X: 1.5, Y: 1.5}, {X: 1.5, Y: -0.5}, {X: 0.5, Y: -0.5},
	}}))
	w.Write(&west)
	require.NoError(t, w.WriteAttribute(0, 0, "West"))
	w.Write(&east)
	require.NoError(t, w.WriteAttribute(1, 0, "East"))
	w.Close()
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := writeShapefile(t)

	shapes, err := Load(path, "name")
	require.NoError(t, err)
	require.Len(t, shapes, 2)
	assert.Equal(t, "West", shapes[0].ID)
	assert.Equal(t, "East", shapes[1].ID)
	assert.Equal(t, "West", shapes[0].Attributes["NAME"])
	assert.True(t, shapes[0].Contains(0, 0))
	assert.False(t, shapes[0].Contains(1, 0))

	byIndex, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "0", byIndex[0].ID)
	assert.Equal(t, "1", byIndex[1].ID)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.shp"), "")
	require.Error(t, err)

	_, err = Load(writeShapefile(t), "ADMIN")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no field")
}

func TestLossByShapes(t *testing.T) {
	t.Parallel()

	// 2x2 cells centred on x in {0,1}, y in {0,1}.
	gd := grid.NewGeoDict(0, 0, 1, 1, 2, 2)
	a := &grid.Aligned{GeoDict: gd, MMI: make([]float64, 4)}

	west, err := NewShape("W", nil, square(-0.5, -0.5, 0.5, 1.5))
	require.NoError(t, err)
	east, err := NewShape("E", nil, square(0.5, -0.5, 1.5, 1.5))
	require.NoError(t, err)
	far, err := NewShape("F", nil, square(10, 10, 11, 11))
	require.NoError(t, err)

	// row 0 is north (y=1): cells (0,0) (0,1) (1,0) (1,1)
	losses := []float64{1, 2, 3, 4}
	got, total, err := LossByShapes(a, losses, []Shape{west, far, east})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.InDelta(t, 4.0, got[0].Loss, 1e-12)
	assert.Equal(t, 2, got[0].Cells)
	assert.Zero(t, got[1].Loss)
	assert.InDelta(t, 6.0, got[2].Loss, 1e-12)
	assert.InDelta(t, got[0].Loss+got[1].Loss+got[2].Loss, total, 1e-12)
}

func TestLossByShapes_LengthMismatch(t *testing.T) {
	t.Parallel()

	a := &grid.Aligned{GeoDict: grid.NewGeoDict(0, 0, 1, 1, 2, 2), MMI: make([]float64, 4)}
	_, _, err := LossByShapes(a, []float64{1}, nil)
	require.Error(t, err)
}
