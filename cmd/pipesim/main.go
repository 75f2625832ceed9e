package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"piperoute-system/internal/logging"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pipesim",
		Short: "Offline pipe stress simulation",
		Long: `pipesim runs the pipe stress simulation against a routing model file
without the API server, and exports the history and report.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newReportCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "pipesim version %s\n", version)
			}
		},
	}
}

// simulationFlags are shared by run and report.
type simulationFlags struct {
	Model     string `validate:"required"`
	Analysis  string `validate:"oneof=pressure thermal vibration combined"`
	Condition string `validate:"oneof=normal high-load extreme"`
}

func addSimulationFlags(cmd *cobra.Command, f *simulationFlags) {
	cmd.Flags().StringVarP(&f.Model, "model", "m", "", "Pipe model file (.json, .yaml)")
	cmd.Flags().StringVarP(&f.Analysis, "analysis", "a", "combined", "Analysis type (pressure, thermal, vibration, combined)")
	cmd.Flags().StringVarP(&f.Condition, "condition", "c", "normal", "Operating condition (normal, high-load, extreme)")
}

func (f simulationFlags) validate() error {
	if err := validator.New().Struct(f); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func loggerFor(cmd *cobra.Command) *zap.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := logging.NewConsole(level)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
