package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quakeloss/internal/report"
)

var exposureOut string

var exposureCmd = &cobra.Command{
	Use:   "exposure <grid source>",
	Short: "Write population exposure per country and intensity as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		events, err := loadShakeMaps(ctx, args)
		if err != nil {
			return err
		}
		shake := events[0]

		env, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		tab, _, err := env.Engine.Exposure(ctx, shake)
		if err != nil {
			return err
		}

		w, closeOut, err := createOutput(exposureOut, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if err := report.WriteExposureCSV(w, tab.Rows(), env.Engine.ISO2); err != nil {
			closeOut() //nolint:errcheck
			return err
		}

		zap.L().Info("exposure written",
			zap.String("event_id", shake.Event.ID),
			zap.Float64("total", tab.Total()),
			zap.Float64("unknown_country", tab.CountryTotal(0, 1)),
		)
		return eris.Wrap(closeOut(), "close output")
	},
}

func init() {
	exposureCmd.Flags().StringVarP(&exposureOut, "out", "o", "", "output CSV file (default stdout)")
	rootCmd.AddCommand(exposureCmd)
}
