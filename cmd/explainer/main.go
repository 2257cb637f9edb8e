package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/ankiexplainer/internal/pipeline"
)

var version = pipeline.Version

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "explainer",
	Short:         "Write LLM explanations onto Anki cards you got wrong",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
