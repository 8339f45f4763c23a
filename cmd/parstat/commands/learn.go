package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/parstat/internal/config"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
)

// NewLearnCommand creates the learn subcommand.
func NewLearnCommand() *cobra.Command {
	rf := &runFlags{}

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Learn a model from CSV data, then derive, assess and test",
		Long: `Learn a model from the input rows split across workers. The per-worker models
are merged into one global model, which is derived and then used to assess and test
each worker's rows. Phases can be switched off in the phases config section.`,
		Example: `  parstat learn -e descriptive -i data.csv
  parstat learn -e multicorrelative -i data.csv -r x,y,z -w 4 --save cov.json
  parstat learn -e order -i data.csv --order-intervals 10 --save weekly --store ./models`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rf.execute(cmd, learnPhases)
		},
	}

	rf.register(cmd)
	cmd.Flags().StringVar(&rf.save, "save", "", "Save the model to a .json/.yaml/.gob file, or under this name in the store")

	return cmd
}

func learnPhases(p config.PhasesConfig) stats.Options {
	return stats.Options{Learn: true, Derive: p.Derive, Assess: p.Assess, Test: p.Test}
}
