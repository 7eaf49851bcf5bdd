package splitter

import (
	"os"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the loader, control-flow, signature and section analyzers and report warnings",
	RunE:  runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	analyzed, err := analyzeFromConfig(cfg)
	if err != nil {
		return err
	}

	log.Info("analysis complete", "functions", len(analyzed.Functions), "labels", len(analyzed.Labels))
	printWarnings(os.Stdout, analyzed.Warnings.Sorted())
	return nil
}
