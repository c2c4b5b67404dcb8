package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quakeloss/internal/alert"
	"github.com/sells-group/quakeloss/internal/combine"
	"github.com/sells-group/quakeloss/internal/engine"
	"github.com/sells-group/quakeloss/internal/grid"
	"github.com/sells-group/quakeloss/internal/gridio"
	"github.com/sells-group/quakeloss/internal/model"
	"github.com/sells-group/quakeloss/internal/store"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"run", "batch", "exposure", "serve", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "quakeloss", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd  string
		flag string
		def  string
	}{
		{"run", "format", "text"},
		{"run", "loss-kind", "fatality"},
		{"run", "no-store", "false"},
		{"run", "shapes", ""},
		{"batch", "out-dir", ""},
		{"exposure", "out", ""},
		{"serve", "port", "0"},
	}
	for _, tt := range tests {
		c, _, err := rootCmd.Find([]string{tt.cmd})
		require.NoError(t, err)
		f := c.Flags().Lookup(tt.flag)
		require.NotNil(t, f, "%s --%s", tt.cmd, tt.flag)
		assert.Equal(t, tt.def, f.DefValue, "%s --%s", tt.cmd, tt.flag)
	}
}

func TestParseLossKind(t *testing.T) {
	k, err := parseLossKind("economic")
	require.NoError(t, err)
	assert.Equal(t, model.LossEconomic, k)

	_, err = parseLossKind("injuries")
	assert.ErrorContains(t, err, "unknown loss kind")
}

func TestWriteResult(t *testing.T) {
	res := &engine.Result{Event: model.Event{ID: "ev1"}, Alert: alert.Result{Level: model.AlertOrange}}

	var text bytes.Buffer
	require.NoError(t, writeResult(&text, res, "text"))
	assert.Contains(t, text.String(), "# ev1")

	var js bytes.Buffer
	require.NoError(t, writeResult(&js, res, "json"))
	assert.Contains(t, js.String(), `"level": "orange"`)

	assert.ErrorContains(t, writeResult(&bytes.Buffer{}, res, "pdf"), "unknown format")
}

func TestLossGrid(t *testing.T) {
	a := &grid.Aligned{
		GeoDict: grid.NewGeoDict(0, 0, 1, 1, 2, 1),
		MMI:     []float64{8, math.NaN()},
		Valid:   []bool{true, false},
	}
	g := lossGrid(a, []float64{12.5, 0})
	assert.InDelta(t, 12.5, g.Data[0], 1e-12)
	assert.True(t, math.IsNaN(g.Data[1]))
}

func TestReportBatch(t *testing.T) {
	dir := t.TempDir()
	outcomes := []engine.Outcome{
		{
			Event: model.Event{ID: "ok1"},
			Result: &engine.Result{
				Event:    model.Event{ID: "ok1"},
				Alert:    alert.Result{Level: model.AlertYellow},
				Fatality: &combine.Estimate{Median: 12},
			},
		},
		{Event: model.Event{ID: "bad1"}, Err: errors.New("grid mismatch")},
	}

	var buf bytes.Buffer
	err := reportBatch(&buf, outcomes, dir)
	assert.ErrorContains(t, err, "1 of 2 events failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "ok1\tyellow\t12\tn/a", lines[0])
	assert.Equal(t, "bad1\tFAILED\tgrid mismatch", lines[1])

	assert.FileExists(t, filepath.Join(dir, "ok1.json"))
	assert.NoFileExists(t, filepath.Join(dir, "bad1.json"))

	buf.Reset()
	require.NoError(t, reportBatch(&buf, outcomes[:1], ""))
}

func TestCreateOutput(t *testing.T) {
	var stdout bytes.Buffer
	w, closeFn, err := createOutput("-", &stdout)
	require.NoError(t, err)
	assert.Same(t, &stdout, w)
	require.NoError(t, closeFn())

	path := filepath.Join(t.TempDir(), "out.txt")
	w, closeFn, err = createOutput(path, &stdout)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, closeFn())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	_, _, err = createOutput(filepath.Join(t.TempDir(), "missing", "out.txt"), &stdout)
	assert.Error(t, err)
}

// Command tests below drive rootCmd end to end against fixture files.

var fixtureGeo = grid.NewGeoDict(84, 27, 0.5, 0.5, 3, 3)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeGrid(t *testing.T, path string, rows [][]float64) string {
	t.Helper()
	g, err := grid.FromRows(fixtureGeo, rows)
	require.NoError(t, err)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	require.NoError(t, gridio.WriteASCII(f, g, -9999))
	return path
}

func shakeXML(id string, center float64) string {
	var data strings.Builder
	for row := range 3 {
		for col := range 3 {
			lon, lat := fixtureGeo.CellCenter(row, col)
			mmi := center - 1
			if row == 1 && col == 1 {
				mmi = center
			}
			fmt.Fprintf(&data, "%.1f %.1f %.1f\n", lon, lat, mmi)
		}
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<shakemap_grid event_id="` + id + `">
<event event_id="` + id + `" magnitude="7.8" depth="8.2" lat="28.23" lon="84.73" event_timestamp="2015-04-25T06:11:26UTC" event_description="Nepal" />
<grid_specification lon_min="84.0" lat_min="27.0" lon_max="85.0" lat_max="28.0" nominal_lon_spacing="0.5" nominal_lat_spacing="0.5" nlon="3" nlat="3" />
<grid_field index="1" name="LON" units="dd" />
<grid_field index="2" name="LAT" units="dd" />
<grid_field index="3" name="MMI" units="intensity" />
<grid_data>
` + data.String() + `</grid_data>
</shakemap_grid>`
}

// setupFixture writes reference data and points the configuration at it.
func setupFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	pop := writeGrid(t, filepath.Join(dir, "pop.asc"), [][]float64{
		{1e5, 1e5, 1e5},
		{1e5, 1e6, 1e5},
		{1e5, 1e5, 1e5},
	})
	iso := writeGrid(t, filepath.Join(dir, "iso.asc"), [][]float64{
		{524, 524, 356},
		{524, 524, 356},
		{524, 524, 356},
	})
	countries := writeFile(t, filepath.Join(dir, "countries.csv"),
		"LongName,ISO2,ISO3,ISON,Name\nFederal Democratic Republic of Nepal,NP,NPL,524,Nepal\nRepublic of India,IN,IND,356,India\n")
	fatality := writeFile(t, filepath.Join(dir, "fatality.xml"),
		`<models vstr="2.2" type="fatality"><model ccode="NP" theta="12.5" beta="0.2" gnormvalue="1.8"/><model ccode="IN" theta="13.0" beta="0.2" gnormvalue="1.5"/></models>`)
	economic := writeFile(t, filepath.Join(dir, "economy.xml"),
		`<models vstr="2.2" type="economic"><model ccode="NP" theta="9.5" beta="0.1" gnormvalue="1.2" alpha="2.0"/></models>`)

	t.Setenv("QUAKELOSS_DATA_POPULATION_GRID", pop)
	t.Setenv("QUAKELOSS_DATA_COUNTRY_GRID", iso)
	t.Setenv("QUAKELOSS_DATA_COUNTRIES", countries)
	t.Setenv("QUAKELOSS_DATA_FATALITY_MODELS", fatality)
	t.Setenv("QUAKELOSS_DATA_ECONOMIC_MODELS", economic)
	t.Setenv("QUAKELOSS_ENGINE_APPLY_GROWTH", "false")
	t.Setenv("QUAKELOSS_STORE_SQLITE_PATH", filepath.Join(dir, "quakeloss.db"))
	t.Setenv("QUAKELOSS_LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	dir := setupFixture(t)
	gridPath := writeFile(t, filepath.Join(dir, "grid.xml"), shakeXML("us20002926", 9))
	lossPath := filepath.Join(dir, "loss.asc")

	out, err := execute(t, "run", "--format", "json", "--no-store", "--out", "-",
		"--loss-grid", lossPath, "--loss-kind", "fatality", "--shapes", "", gridPath)
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	ev, ok := res["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "us20002926", ev["id"])
	assert.NotNil(t, res["fatality"])
	countries, ok := res["countries"].([]any)
	require.True(t, ok)
	assert.Len(t, countries, 2)

	lg, err := gridio.LoadASCII(lossPath)
	require.NoError(t, err)
	assert.Equal(t, 3, lg.NX)
	assert.Greater(t, lg.At(1, 1), lg.At(0, 0))
}

func TestRunCommand_Text(t *testing.T) {
	dir := setupFixture(t)
	gridPath := writeFile(t, filepath.Join(dir, "grid.xml"), shakeXML("us20002926", 9))

	out, err := execute(t, "run", "--format", "text", "--no-store", "--out", "", "--loss-grid", "", "--shapes", "", gridPath)
	require.NoError(t, err)
	assert.Contains(t, out, "# us20002926 M7.8 Nepal")
	assert.Contains(t, out, "- NP (524)")
}

func TestExposureCommand(t *testing.T) {
	dir := setupFixture(t)
	gridPath := writeFile(t, filepath.Join(dir, "grid.xml"), shakeXML("us20002926", 9))

	out, err := execute(t, "exposure", "--out", "", gridPath)
	require.NoError(t, err)

	recs, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 1+2*10)
	assert.Equal(t, []string{"country", "iso2", "bin", "mmi", "population"}, recs[0])
	assert.Contains(t, recs, []string{"524", "NP", "9", "IX", "1000000"})
	assert.Contains(t, recs, []string{"524", "NP", "8", "VIII", "500000"})
	assert.Contains(t, recs, []string{"356", "IN", "8", "VIII", "300000"})
}

func TestExposureCommand_RemoteZip(t *testing.T) {
	dir := setupFixture(t)
	t.Setenv("QUAKELOSS_FETCH_DIR", filepath.Join(dir, "downloads"))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create("us20002926/download/grid.xml")
	require.NoError(t, err)
	_, err = fw.Write([]byte(shakeXML("us20002926", 9)))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	out, err := execute(t, "exposure", "--out", "", srv.URL+"/us20002926.zip")
	require.NoError(t, err)
	assert.Contains(t, out, "524,NP,9,IX,1000000")

	left, err := os.ReadDir(filepath.Join(dir, "downloads"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestBatchCommand(t *testing.T) {
	dir := setupFixture(t)
	a := writeFile(t, filepath.Join(dir, "a.xml"), shakeXML("us20002926", 9))
	b := writeFile(t, filepath.Join(dir, "b.xml"), shakeXML("us20002ejl", 7))
	outDir := filepath.Join(dir, "results")

	out, err := execute(t, "batch", "--no-store=false", "--out-dir", outDir, a, b)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "us20002926\t"))
	assert.True(t, strings.HasPrefix(lines[1], "us20002ejl\t"))
	assert.FileExists(t, filepath.Join(outDir, "us20002926.json"))
	assert.FileExists(t, filepath.Join(outDir, "us20002ejl.json"))

	st, err := store.NewSQLite(filepath.Join(dir, "quakeloss.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	runs, err := st.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestBatchCommand_MissingFile(t *testing.T) {
	dir := setupFixture(t)
	_, err := execute(t, "batch", "--out-dir", "", filepath.Join(dir, "nope.xml"))
	assert.ErrorContains(t, err, "load shakemap")
}

func TestMigrateCommand(t *testing.T) {
	dir := setupFixture(t)

	_, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "quakeloss.db"))
}

func TestMigrateCommand_BadDriver(t *testing.T) {
	setupFixture(t)
	t.Setenv("QUAKELOSS_STORE_DRIVER", "mysql")

	_, err := execute(t, "migrate")
	assert.ErrorContains(t, err, "store.driver must be sqlite or postgres")
}
