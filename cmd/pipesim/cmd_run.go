package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"piperoute-system/internal/domain"
	"piperoute-system/internal/export"
	"piperoute-system/internal/infrastructure"
	"piperoute-system/internal/simulation"
	"piperoute-system/pkg/stress"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runFlags struct {
	simulationFlags
	Seed      int64
	Realtime  bool
	CSV       string
	Workbook  string
	ReportCSV string
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full simulation over a pipe model",
		Example: `  pipesim run -m model.json -a thermal -c extreme --csv history.csv
  pipesim run -m model.yaml --xlsx report.xlsx --realtime`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			logger := loggerFor(cmd)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := runSimulation(ctx, f, logger)
			if err != nil {
				return err
			}
			if err := writeExports(f, res, logger); err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"run_id":  res.RunID,
					"summary": simulation.Summarize(res.History),
					"report":  res.Report,
				})
			}
			return printRun(cmd.OutOrStdout(), res)
		},
	}

	addSimulationFlags(cmd, &f.simulationFlags)
	cmd.Flags().Int64Var(&f.Seed, "seed", 0, "Noise seed (0 picks a random seed)")
	cmd.Flags().BoolVar(&f.Realtime, "realtime", false, "Tick at the live cadence instead of as fast as possible")
	cmd.Flags().StringVar(&f.CSV, "csv", "", "Write the history CSV to this file")
	cmd.Flags().StringVar(&f.Workbook, "xlsx", "", "Write the report workbook to this file")
	cmd.Flags().StringVar(&f.ReportCSV, "report-csv", "", "Write the report CSV to this file")
	cmd.MarkFlagRequired("model")

	return cmd
}

func runSimulation(ctx context.Context, f runFlags, logger *zap.Logger) (simulation.Result, error) {
	model, err := infrastructure.NewModelReader(logger).ReadFile(f.Model)
	if err != nil {
		return simulation.Result{}, fmt.Errorf("failed to read model: %w", err)
	}

	done := make(chan simulation.Result, 1)
	opts := simulation.Options{
		Noise:      stress.NewUniformNoise(f.Seed),
		Logger:     logger,
		OnComplete: func(res simulation.Result) { done <- res },
	}

	var manual *simulation.ManualScheduler
	if !f.Realtime {
		manual = simulation.NewManualScheduler()
		opts.Scheduler = manual
	}

	stepper := simulation.NewStepper(opts)
	_, err = stepper.Start(simulation.Config{
		AnalysisType:       stress.AnalysisType(f.Analysis),
		OperatingCondition: stress.OperatingCondition(f.Condition),
		Pipes:              model.Pipes,
	})
	if err != nil {
		return simulation.Result{}, err
	}

	if manual != nil {
		manual.Advance(domain.TotalSteps)
	}

	select {
	case res := <-done:
		for _, w := range stepper.Warnings() {
			logger.Warn("Simulation warning", zap.Error(w))
		}
		return res, nil
	case <-ctx.Done():
		stepper.Stop()
		return simulation.Result{}, errors.New("simulation interrupted")
	}
}

func writeExports(f runFlags, res simulation.Result, logger *zap.Logger) error {
	writer := export.NewHistoryWriter(logger)

	if f.CSV != "" {
		csv, warnings := writer.CSV(res.History)
		for _, w := range warnings {
			logger.Warn("History export warning", zap.Error(w))
		}
		if err := os.WriteFile(f.CSV, []byte(csv), 0o644); err != nil {
			return fmt.Errorf("failed to write history CSV: %w", err)
		}
	}

	if f.ReportCSV != "" {
		csv, err := export.ReportCSV(res.Report)
		if err != nil {
			return err
		}
		if err := os.WriteFile(f.ReportCSV, []byte(csv), 0o644); err != nil {
			return fmt.Errorf("failed to write report CSV: %w", err)
		}
	}

	if f.Workbook != "" {
		buf, err := writer.Workbook(res.Report, res.History)
		if err != nil {
			return err
		}
		if err := os.WriteFile(f.Workbook, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write workbook: %w", err)
		}
	}
	return nil
}

func printRun(w io.Writer, res simulation.Result) error {
	sum := simulation.Summarize(res.History)

	fmt.Fprintf(w, "Run %s: %s analysis, %s conditions, %d steps\n\n",
		res.RunID, res.State.AnalysisType, res.State.OperatingCondition, sum.Steps)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PIPE\tNAME\tFINAL\tMEAN\tMAX\tTIER")
	for _, p := range sum.Pipes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Name,
			export.FormatPercent(p.Final), export.FormatPercent(p.Mean), export.FormatPercent(p.Max),
			p.Tier)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%s\n", res.Report.Summary)
	for _, section := range res.Report.Sections() {
		fmt.Fprintf(w, "\n%s:\n", section.Title)
		for _, item := range section.Items {
			fmt.Fprintf(w, "  - %s\n", item)
		}
	}
	return nil
}
