package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quakeloss/internal/engine"
	"github.com/sells-group/quakeloss/internal/report"
)

var (
	batchOutDir  string
	batchNoStore bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <grid source>...",
	Short: "Estimate losses for several ShakeMap events concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		events, err := loadShakeMaps(ctx, args)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, !batchNoStore)
		if err != nil {
			return err
		}
		defer env.Close()

		outcomes := env.Engine.RunBatch(ctx, events)
		return reportBatch(cmd.OutOrStdout(), outcomes, batchOutDir)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchOutDir, "out-dir", "", "directory for per-event JSON results")
	batchCmd.Flags().BoolVar(&batchNoStore, "no-store", false, "do not persist runs")
	rootCmd.AddCommand(batchCmd)
}

// reportBatch prints one line per event, optionally writes per-event JSON,
// and fails when any event failed.
func reportBatch(w io.Writer, outcomes []engine.Outcome, outDir string) error {
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", outDir)
		}
	}

	var failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(w, "%s\tFAILED\t%v\n", o.Event.ID, o.Err)
			continue
		}
		res := o.Result
		fatality, economic := "n/a", "n/a"
		if res.Fatality != nil {
			fatality = report.FormatCount(res.Fatality.Median)
		}
		if res.Economic != nil {
			economic = report.FormatDollars(res.Economic.Median)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.Event.ID, res.Alert.Level, fatality, economic)

		if outDir == "" {
			continue
		}
		if err := writeEventJSON(filepath.Join(outDir, o.Event.ID+".json"), res); err != nil {
			zap.L().Error("write event result", zap.String("event_id", o.Event.ID), zap.Error(err))
			failed++
		}
	}

	if failed > 0 {
		return eris.Errorf("%d of %d events failed", failed, len(outcomes))
	}
	return nil
}

func writeEventJSON(path string, res *engine.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := report.WriteJSON(f, res); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}
