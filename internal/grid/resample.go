package grid

import (
	"math"
)

// Resampler moves a source raster onto a target geometry. Codes must use
// Nearest; counts must use AreaWeighted.
type Resampler interface {
	// Nearest assigns each target cell the source value under its centre.
	Nearest(src *Grid, dst GeoDict) *Grid
	// AreaWeighted assigns each target cell the sum of source counts
	// weighted by the overlapped fraction of each source cell.
	AreaWeighted(src *Grid, dst GeoDict) *Grid
}

// DefaultResampler is the in-process Resampler used by the engine.
type DefaultResampler struct{}

var _ Resampler = DefaultResampler{}

// Nearest implements Resampler.
func (DefaultResampler) Nearest(src *Grid, dst GeoDict) *Grid {
	out := New(dst, math.NaN())
	for r := 0; r < dst.NY; r++ {
		for c := 0; c < dst.NX; c++ {
			x, y := dst.CellCenter(r, c)
			sr, sc, ok := src.CellIndex(x, y)
			if !ok {
				continue
			}
			out.Set(r, c, src.At(sr, sc))
		}
	}
	return out
}

// AreaWeighted implements Resampler. Source cells that are NaN contribute
// nothing; a target cell with no contributing source cell is NaN.
func (DefaultResampler) AreaWeighted(src *Grid, dst GeoDict) *Grid {
	out := New(dst, math.NaN())
	srcArea := src.DX * src.DY
	srcWest := src.XMin - src.DX/2
	srcNorth := src.YMax + src.DY/2

	for r := 0; r < dst.NY; r++ {
		for c := 0; c < dst.NX; c++ {
			x, y := dst.CellCenter(r, c)
			west, east := x-dst.DX/2, x+dst.DX/2
			south, north := y-dst.DY/2, y+dst.DY/2

			c0 := clampIndex(int(math.Floor((west-srcWest)/src.DX)), src.NX)
			c1 := clampIndex(int(math.Ceil((east-srcWest)/src.DX))-1, src.NX)
			r0 := clampIndex(int(math.Floor((srcNorth-north)/src.DY)), src.NY)
			r1 := clampIndex(int(math.Ceil((srcNorth-south)/src.DY))-1, src.NY)

			var sum float64
			var hit bool
			for sr := r0; sr <= r1; sr++ {
				cellNorth := srcNorth - float64(sr)*src.DY
				h := math.Min(north, cellNorth) - math.Max(south, cellNorth-src.DY)
				if h <= 0 {
					continue
				}
				for sc := c0; sc <= c1; sc++ {
					cellWest := srcWest + float64(sc)*src.DX
					w := math.Min(east, cellWest+src.DX) - math.Max(west, cellWest)
					if w <= 0 {
						continue
					}
					v := src.At(sr, sc)
					if math.IsNaN(v) {
						continue
					}
					sum += v * (w * h / srcArea)
					hit = true
				}
			}
			if hit {
				out.Set(r, c, sum)
			}
		}
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
