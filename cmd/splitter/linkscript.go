package splitter

import (
	"fmt"

	"github.com/spf13/cobra"
)

var linkscriptCmd = &cobra.Command{
	Use:   "linkscript",
	Short: "Print the CodeWarrior-format linker script for the recovered translation units",
	RunE:  runLinkscript,
}

func runLinkscript(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := splitFromConfig(cfg)
	if err != nil {
		return err
	}

	fmt.Print(out.LinkerScript)
	return nil
}
