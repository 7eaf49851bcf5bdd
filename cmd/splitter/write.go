package splitter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Run the full pipeline and write the split objects and linker script to output_dir",
	RunE:  runWrite,
}

func runWrite(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := splitFromConfig(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", cfg.OutputDir, err)
	}

	for _, name := range out.ObjectNames {
		path := filepath.Join(cfg.OutputDir, name)
		if err := os.WriteFile(path, out.ObjectBytes[name], 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		log.Info("wrote object", "path", path)
	}

	scriptPath := filepath.Join(cfg.OutputDir, "link.ld")
	if err := os.WriteFile(scriptPath, []byte(out.LinkerScript), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", scriptPath, err)
	}
	log.Info("wrote linker script", "path", scriptPath)

	printWarnings(os.Stdout, out.Warnings)
	return nil
}
