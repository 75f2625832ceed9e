package main

import (
	"fmt"

	"piperoute-system/internal/infrastructure"
	"piperoute-system/internal/report"
	"piperoute-system/pkg/stress"

	"github.com/spf13/cobra"
)

// newReportCmd synthesizes a report from the stress values already stored
// in a model file, without simulating.
func newReportCmd() *cobra.Command {
	var f simulationFlags

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Synthesize a report from a model's stored stress values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			logger := loggerFor(cmd)
			defer logger.Sync()

			model, err := infrastructure.NewModelReader(logger).ReadFile(f.Model)
			if err != nil {
				return fmt.Errorf("failed to read model: %w", err)
			}

			in := report.FromPipes(stress.AnalysisType(f.Analysis), stress.OperatingCondition(f.Condition), model.Pipes)
			rep := report.Synthesize(in)
			points := report.AssessPipes(in.Pipes)

			out := cmd.OutOrStdout()
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(out, map[string]any{
					"report":          rep,
					"critical_points": points,
					"stats":           model.Stats,
				})
			}

			fmt.Fprintln(out, rep.Summary)
			for _, section := range rep.Sections() {
				fmt.Fprintf(out, "\n%s:\n", section.Title)
				for _, item := range section.Items {
					fmt.Fprintf(out, "  - %s\n", item)
				}
			}
			if len(points) > 0 {
				fmt.Fprintln(out, "\nCritical Points:")
				for _, p := range points {
					fmt.Fprintf(out, "  - %s (%s): %s, use %s, expected improvement %d%%\n",
						p.Name, p.PipeID, p.Label, p.SuggestedMaterial, p.ExpectedImprovement)
				}
			}
			return nil
		},
	}

	addSimulationFlags(cmd, &f)
	cmd.MarkFlagRequired("model")
	return cmd
}
