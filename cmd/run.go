package main

import (
	"io"
	"math"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quakeloss/internal/engine"
	"github.com/sells-group/quakeloss/internal/grid"
	"github.com/sells-group/quakeloss/internal/gridio"
	"github.com/sells-group/quakeloss/internal/loss"
	"github.com/sells-group/quakeloss/internal/model"
	"github.com/sells-group/quakeloss/internal/report"
	"github.com/sells-group/quakeloss/internal/shapes"
)

const lossGridNoData = -9999

var (
	runFormat    string
	runOut       string
	runNoStore   bool
	runLossGrid  string
	runLossKind  string
	runShapes    string
	runShapeID   string
	runShapesOut string
)

var runCmd = &cobra.Command{
	Use:   "run <grid source>",
	Short: "Estimate losses for a single ShakeMap event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		kind, err := parseLossKind(runLossKind)
		if err != nil {
			return err
		}

		events, err := loadShakeMaps(ctx, args)
		if err != nil {
			return err
		}
		shake := events[0]

		env, err := initEngine(ctx, !runNoStore)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.Run(ctx, shake)
		if err != nil {
			return err
		}

		w, closeOut, err := createOutput(runOut, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if err := writeResult(w, res, runFormat); err != nil {
			closeOut() //nolint:errcheck
			return err
		}
		if err := closeOut(); err != nil {
			return eris.Wrap(err, "close output")
		}

		if runLossGrid == "" && runShapes == "" {
			return nil
		}
		cells := cellLosses(res.Aligned, env.Data, kind)

		if runLossGrid != "" {
			if err := writeLossGrid(runLossGrid, res.Aligned, cells); err != nil {
				return err
			}
			zap.L().Info("wrote loss grid", zap.String("path", runLossGrid), zap.String("kind", string(kind)))
		}
		if runShapes != "" {
			if err := writeShapeLosses(runShapes, runShapeID, runShapesOut, res.Aligned, cells, cmd.OutOrStdout()); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runFormat, "format", "text", "output format: text or json")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "output file (default stdout)")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "do not persist the run")
	runCmd.Flags().StringVar(&runLossGrid, "loss-grid", "", "write per-cell losses as an ESRI ASCII grid")
	runCmd.Flags().StringVar(&runLossKind, "loss-kind", string(model.LossFatality), "loss kind for per-cell output: fatality or economic")
	runCmd.Flags().StringVar(&runShapes, "shapes", "", "polygon shapefile to sum per-cell losses into")
	runCmd.Flags().StringVar(&runShapeID, "shape-id", "", "shapefile attribute used as polygon id (default record number)")
	runCmd.Flags().StringVar(&runShapesOut, "shapes-out", "", "CSV file for polygon losses (default stdout)")
	rootCmd.AddCommand(runCmd)
}

func parseLossKind(s string) (model.LossKind, error) {
	switch k := model.LossKind(s); k {
	case model.LossFatality, model.LossEconomic:
		return k, nil
	default:
		return "", eris.Errorf("unknown loss kind %q", s)
	}
}

func writeResult(w io.Writer, res *engine.Result, format string) error {
	switch format {
	case "json":
		return report.WriteJSON(w, res)
	case "text", "":
		_, err := io.WriteString(w, report.FormatSummary(res))
		return eris.Wrap(err, "write summary")
	default:
		return eris.Errorf("unknown format %q", format)
	}
}

func cellLosses(a *grid.Aligned, data engine.Data, kind model.LossKind) []float64 {
	return loss.CellLosses(a, data.Calibration, kind, data.GDP)
}

// lossGrid places per-cell losses on the shaking grid; invalid cells are
// NaN.
func lossGrid(a *grid.Aligned, cells []float64) *grid.Grid {
	g := grid.New(a.GeoDict, math.NaN())
	for i, v := range cells {
		if a.Valid[i] {
			g.Data[i] = v
		}
	}
	return g
}

func writeLossGrid(path string, a *grid.Aligned, cells []float64) error {
	w, closeOut, err := createOutput(path, io.Discard)
	if err != nil {
		return err
	}
	if err := gridio.WriteASCII(w, lossGrid(a, cells), lossGridNoData); err != nil {
		closeOut() //nolint:errcheck
		return eris.Wrap(err, "write loss grid")
	}
	return eris.Wrap(closeOut(), "close loss grid")
}

func writeShapeLosses(shpPath, idField, outPath string, a *grid.Aligned, cells []float64, stdout io.Writer) error {
	polys, err := shapes.Load(shpPath, idField)
	if err != nil {
		return eris.Wrap(err, "load shapes")
	}
	rows, total, err := shapes.LossByShapes(a, cells, polys)
	if err != nil {
		return err
	}
	zap.L().Info("summed losses by polygon",
		zap.Int("polygons", len(rows)),
		zap.Float64("total", total),
	)

	w, closeOut, err := createOutput(outPath, stdout)
	if err != nil {
		return err
	}
	if err := report.WriteShapeLossCSV(w, rows); err != nil {
		closeOut() //nolint:errcheck
		return err
	}
	return eris.Wrap(closeOut(), "close shape losses")
}
