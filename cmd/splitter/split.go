package splitter

import (
	"os"

	"github.com/spf13/cobra"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Run the splitter and report the resulting translation units",
	RunE:  runSplit,
}

func runSplit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := splitFromConfig(cfg)
	if err != nil {
		return err
	}

	for _, name := range out.ObjectNames {
		log.Info("split object", "name", name, "bytes", len(out.ObjectBytes[name]))
	}
	printWarnings(os.Stdout, out.Warnings)
	return nil
}
