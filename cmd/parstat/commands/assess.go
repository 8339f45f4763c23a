package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/parstat/internal/config"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
)

// ErrNoModel is returned when assess runs without --model.
var ErrNoModel = errors.New("model is required (use --model with a file or a stored model name)")

// NewAssessCommand creates the assess subcommand.
func NewAssessCommand() *cobra.Command {
	rf := &runFlags{}

	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Assess and test CSV data against a saved model",
		Long: `Assess the input rows against a model learned earlier. The model is read from a
.json, .yaml or .gob file, or from the model store when the reference has no such
extension. Learning and derivation are skipped.`,
		Example: `  parstat assess -e descriptive -i today.csv --model baseline.json
  parstat assess -e pca -i today.csv --model weekly --store ./models -o assessed.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rf.model == "" {
				return ErrNoModel
			}

			return rf.execute(cmd, assessPhases)
		},
	}

	rf.register(cmd)
	cmd.Flags().StringVarP(&rf.model, "model", "m", "", "Model file or stored model name")

	return cmd
}

func assessPhases(p config.PhasesConfig) stats.Options {
	return stats.Options{Assess: true, Test: p.Test}
}
