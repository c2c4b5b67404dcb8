package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quakeloss/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "quakeloss",
	Short: "Earthquake exposure and loss estimation",
	Long:  "Overlays ShakeMap intensity grids on population and country rasters, estimates fatalities and economic losses per country, and assigns PAGER-style alert levels.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
