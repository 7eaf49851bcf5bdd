package splitter

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logLevel string
	logJSON  bool

	log *slog.Logger
)

// RootCmd is the splitter CLI's entry point.
var RootCmd = &cobra.Command{
	Use:   "splitter",
	Short: "Recover compiler-matching translation units from a GameCube/Wii DOL/REL image",
	Long: `splitter analyzes a stripped GameCube or Wii executable (a DOL, plus any
loaded RELs) and reconstructs the translation units, symbols, and
relocations a CodeWarrior-era build would have produced, so that a
decompilation project can link against the recovered objects and match the
original image byte for byte.`,
}

// Execute adds all child commands to RootCmd and runs it. Called by
// main.main; it only needs to happen once.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "project config file (default: ./splitter.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	RootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "also emit structured JSON logs alongside the console text log")
	RootCmd.AddCommand(analyzeCmd, splitCmd, linkscriptCmd, writeCmd, inspectCmd)
	cobra.OnInitialize(initConfig, initLogging)
}

// initConfig reads the project config file and environment variables,
// mirroring the teacher's cmd/root.go initConfig (viper.SetConfigType,
// viper.ReadInConfig), except the caller decodes the merged settings into
// this package's own strict config.Config rather than reading ad hoc
// viper.Get calls.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("splitter")
	}

	viper.SetEnvPrefix("SPLITTER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() {
	log = newLogger(logLevel, logJSON)
}
