// Package gridio reads the rasters the engine consumes: ESRI ASCII
// population and country grids and ShakeMap grid.xml intensity products.
package gridio

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quakeloss/internal/grid"
)

// ReadASCII parses an ESRI ASCII grid. Corner or centre registration is
// accepted; NODATA cells become NaN.
func ReadASCII(r io.Reader) (*grid.Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	hdr := map[string]float64{}
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = key
			break
		}
		if !sc.Scan() {
			return nil, eris.Errorf("gridio: header %q has no value", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "gridio: header %q", key)
		}
		hdr[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "gridio: scan header")
	}

	nx, ny := int(hdr["ncols"]), int(hdr["nrows"])
	cell, ok := hdr["cellsize"]
	if !ok || nx <= 0 || ny <= 0 || cell <= 0 {
		return nil, eris.New("gridio: header needs ncols, nrows and cellsize")
	}
	var x0, y0 float64
	switch {
	case has(hdr, "xllcenter") && has(hdr, "yllcenter"):
		x0, y0 = hdr["xllcenter"], hdr["yllcenter"]
	case has(hdr, "xllcorner") && has(hdr, "yllcorner"):
		x0, y0 = hdr["xllcorner"]+cell/2, hdr["yllcorner"]+cell/2
	default:
		return nil, eris.New("gridio: header needs xll/yll corner or center")
	}
	nodata, hasNodata := hdr["nodata_value"]

	g := grid.New(grid.NewGeoDict(x0, y0, cell, cell, nx, ny), math.NaN())
	n := nx * ny
	i := 0
	store := func(tok string) error {
		if i >= n {
			return eris.Errorf("gridio: more than %d values", n)
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return eris.Wrapf(err, "gridio: value %d", i)
		}
		if hasNodata && v == nodata {
			v = math.NaN()
		}
		g.Data[i] = v
		i++
		return nil
	}
	if first != "" {
		if err := store(first); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := store(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "gridio: scan data")
	}
	if i != n {
		return nil, eris.Errorf("gridio: got %d values, header wants %d", i, n)
	}
	return g, nil
}

// LoadASCII reads an ESRI ASCII grid from disk.
func LoadASCII(path string) (*grid.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "gridio: open grid")
	}
	defer f.Close() //nolint:errcheck

	g, err := ReadASCII(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, eris.Wrapf(err, "gridio: %s", path)
	}
	return g, nil
}

// WriteASCII writes g as an ESRI ASCII grid with centre registration.
func WriteASCII(w io.Writer, g *grid.Grid, nodata float64) error {
	bw := bufio.NewWriter(w)
	header := "ncols " + strconv.Itoa(g.NX) + "\n" +
		"nrows " + strconv.Itoa(g.NY) + "\n" +
		"xllcenter " + fmtFloat(g.XMin) + "\n" +
		"yllcenter " + fmtFloat(g.YMin) + "\n" +
		"cellsize " + fmtFloat(g.DX) + "\n" +
		"NODATA_value " + fmtFloat(nodata) + "\n"
	if _, err := bw.WriteString(header); err != nil {
		return eris.Wrap(err, "gridio: write header")
	}
	for row := range g.NY {
		for col := range g.NX {
			v := g.At(row, col)
			if math.IsNaN(v) {
				v = nodata
			}
			sep := " "
			if col == g.NX-1 {
				sep = "\n"
			}
			if _, err := bw.WriteString(fmtFloat(v) + sep); err != nil {
				return eris.Wrap(err, "gridio: write row")
			}
		}
	}
	return eris.Wrap(bw.Flush(), "gridio: flush")
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func has(m map[string]float64, k string) bool {
	_, ok := m[k]
	return ok
}
