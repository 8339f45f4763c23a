package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/parstat/internal/render"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/catalog"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// NewEstimatorsCommand creates the estimators subcommand.
func NewEstimatorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "estimators",
		Short: "List the available estimators and their options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := render.Options{NoColor: flagBool(cmd, noColorFlag)}
			w := cmd.OutOrStdout()

			err := render.Table(w, "Estimators", estimatorTable(), opts)
			if err != nil {
				return err
			}

			return render.Table(w, "Options", optionTable(), opts)
		},
	}
}

func estimatorTable() *table.Table {
	all := catalog.All()
	names := table.NewColumn("Name", table.KindText, len(all))
	arity := table.NewColumn("Columns", table.KindText, len(all))
	desc := table.NewColumn("Description", table.KindText, len(all))

	for _, d := range all {
		names.AppendText(d.Name)
		desc.AppendText(d.Description)

		if d.Arity == 0 {
			arity.AppendText("any")
		} else {
			arity.AppendText(strings.Repeat("x", d.Arity))
		}
	}

	return table.MustNew(names, arity, desc)
}

func optionTable() *table.Table {
	opts := catalog.Options()
	flags := table.NewColumn("Flag", table.KindText, len(opts))
	kinds := table.NewColumn("Type", table.KindText, len(opts))
	defaults := table.NewColumn("Default", table.KindText, len(opts))
	desc := table.NewColumn("Description", table.KindText, len(opts))

	for _, opt := range opts {
		flags.AppendText("--" + opt.Flag)
		kinds.AppendText(opt.Type.String())
		defaults.AppendText(opt.FormatDefault())
		desc.AppendText(opt.Description)
	}

	return table.MustNew(flags, kinds, defaults, desc)
}
