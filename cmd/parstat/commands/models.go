package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/parstat/internal/render"
)

const diffArgCount = 2

// NewModelsCommand creates the models subcommand and its children.
func NewModelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage models in the model store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored model names",
		Args:  cobra.NoArgs,
		RunE:  runModelsList,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete stored models",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runModelsDelete,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "diff <before> <after>",
		Short: "Show a line diff of two models (files or stored names)",
		Args:  cobra.ExactArgs(diffArgCount),
		RunE:  runModelsDiff,
	})

	return cmd
}

func runModelsDiff(cmd *cobra.Command, args []string) error {
	dir, err := resolveStoreDir(cmd)
	if err != nil {
		return err
	}

	before, err := loadModel(args[0], dir)
	if err != nil {
		return fmt.Errorf("load %s: %w", args[0], err)
	}

	after, err := loadModel(args[1], dir)
	if err != nil {
		return fmt.Errorf("load %s: %w", args[1], err)
	}

	changed, err := render.Diff(cmd.OutOrStdout(), before, after, render.Options{NoColor: flagBool(cmd, noColorFlag)})
	if err != nil {
		return err
	}

	if !flagBool(cmd, quietFlag) {
		fmt.Fprintf(cmd.ErrOrStderr(), "progress: %d lines changed\n", changed)
	}

	return nil
}

func runModelsList(cmd *cobra.Command, _ []string) error {
	dir, err := resolveStoreDir(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	names, err := store.Names()
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}

	return nil
}

func runModelsDelete(cmd *cobra.Command, args []string) error {
	dir, err := resolveStoreDir(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, name := range args {
		err = store.Delete(name)
		if err != nil {
			return err
		}
	}

	return nil
}
