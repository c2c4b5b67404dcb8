package gridio

import (
	"bufio"
	"encoding/xml"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quakeloss/internal/grid"
	"github.com/sells-group/quakeloss/internal/model"
	"github.com/sells-group/quakeloss/internal/refdata"
)

type shakeDoc struct {
	XMLName xml.Name   `xml:"shakemap_grid"`
	EventID string     `xml:"event_id,attr"`
	Event   shakeEvent `xml:"event"`
	Spec    shakeSpec  `xml:"grid_specification"`
	Fields  []struct {
		Index int    `xml:"index,attr"`
		Name  string `xml:"name,attr"`
	} `xml:"grid_field"`
	Data string `xml:"grid_data"`
}

type shakeEvent struct {
	EventID     string  `xml:"event_id,attr"`
	Magnitude   float64 `xml:"magnitude,attr"`
	Depth       float64 `xml:"depth,attr"`
	Lat         float64 `xml:"lat,attr"`
	Lon         float64 `xml:"lon,attr"`
	Timestamp   string  `xml:"event_timestamp,attr"`
	Description string  `xml:"event_description,attr"`
}

type shakeSpec struct {
	LonMin float64 `xml:"lon_min,attr"`
	LatMin float64 `xml:"lat_min,attr"`
	LonMax float64 `xml:"lon_max,attr"`
	LatMax float64 `xml:"lat_max,attr"`
	DLon   float64 `xml:"nominal_lon_spacing,attr"`
	DLat   float64 `xml:"nominal_lat_spacing,attr"`
	NLon   int     `xml:"nlon,attr"`
	NLat   int     `xml:"nlat,attr"`
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05UTC",
	"2006-01-02T15:04:05.000000Z",
	"2006-01-02T15:04:05.000Z",
	time.RFC3339Nano,
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("gridio: unrecognized event_timestamp %q", s)
}

// ReadShakeMap parses a ShakeMap grid.xml document and keeps the MMI
// layer. Rows run north to south and columns west to east.
func ReadShakeMap(r io.Reader) (grid.ShakeGrid, error) {
	var doc shakeDoc
	if err := refdata.DecodeXML(r, &doc); err != nil {
		return grid.ShakeGrid{}, eris.Wrap(err, "gridio: parse shakemap")
	}

	mmiCol := -1
	nfields := 0
	for _, f := range doc.Fields {
		nfields = max(nfields, f.Index)
		if strings.EqualFold(f.Name, "MMI") {
			mmiCol = f.Index - 1
		}
	}
	if mmiCol < 0 {
		return grid.ShakeGrid{}, eris.New("gridio: shakemap has no MMI field")
	}

	s := doc.Spec
	if s.NLon <= 0 || s.NLat <= 0 {
		return grid.ShakeGrid{}, eris.Errorf("gridio: shakemap grid is %dx%d", s.NLon, s.NLat)
	}
	dx, dy := s.DLon, s.DLat
	if s.NLon > 1 {
		dx = (s.LonMax - s.LonMin) / float64(s.NLon-1)
	}
	if s.NLat > 1 {
		dy = (s.LatMax - s.LatMin) / float64(s.NLat-1)
	}
	g := grid.New(grid.NewGeoDict(s.LonMin, s.LatMin, dx, dy, s.NLon, s.NLat), math.NaN())
	if err := g.Validate(); err != nil {
		return grid.ShakeGrid{}, eris.Wrap(err, "gridio: shakemap geometry")
	}

	n := s.NLon * s.NLat
	sc := bufio.NewScanner(strings.NewReader(doc.Data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	i := 0
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < nfields {
			return grid.ShakeGrid{}, eris.Errorf("gridio: shakemap row %d has %d fields, want %d", i, len(fields), nfields)
		}
		if i >= n {
			return grid.ShakeGrid{}, eris.Errorf("gridio: shakemap has more than %d rows", n)
		}
		v, err := strconv.ParseFloat(fields[mmiCol], 64)
		if err != nil {
			return grid.ShakeGrid{}, eris.Wrapf(err, "gridio: shakemap row %d", i)
		}
		g.Data[i] = v
		i++
	}
	if i != n {
		return grid.ShakeGrid{}, eris.Errorf("gridio: shakemap has %d rows, grid_specification wants %d", i, n)
	}

	ev := model.Event{
		ID:        doc.Event.EventID,
		Magnitude: doc.Event.Magnitude,
		Depth:     doc.Event.Depth,
		Lat:       doc.Event.Lat,
		Lon:       doc.Event.Lon,
		Location:  doc.Event.Description,
	}
	if ev.ID == "" {
		ev.ID = doc.EventID
	}
	if doc.Event.Timestamp != "" {
		t, err := parseTimestamp(doc.Event.Timestamp)
		if err != nil {
			return grid.ShakeGrid{}, err
		}
		ev.Time = t
	}
	return grid.ShakeGrid{Event: ev, MMI: g}, nil
}

// LoadShakeMap reads a grid.xml file.
func LoadShakeMap(path string) (grid.ShakeGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return grid.ShakeGrid{}, eris.Wrap(err, "gridio: open shakemap")
	}
	defer f.Close() //nolint:errcheck
	return ReadShakeMap(bufio.NewReader(f))
}
