package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/parstat/internal/config"
	"github.com/Sumatoshi-tech/parstat/internal/render"
)

const (
	renderCmdUse   = "render <model>"
	renderArgCount = 1
)

// NewRenderCommand creates the render subcommand.
func NewRenderCommand() *cobra.Command {
	var (
		html    string
		maxRows int
	)

	cmd := &cobra.Command{
		Use:   renderCmdUse,
		Short: "Print a saved model as tables or render it as an HTML page",
		Long: `Print every block of a model as a table. The model is a .json, .yaml or .gob
file, or a name in the model store. With --html the blocks are drawn as charts in a
standalone HTML page instead.`,
		Example: `  parstat render baseline.json
  parstat render weekly --store ./models --html weekly.html`,
		Args: cobra.ExactArgs(renderArgCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args[0], html, maxRows)
		},
	}

	cmd.Flags().StringVar(&html, "html", "", "Write an HTML chart page to this file")
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "Maximum rows printed per table (0 = all)")

	return cmd
}

func runRender(cmd *cobra.Command, ref, html string, maxRows int) error {
	storeDir, err := resolveStoreDir(cmd)
	if err != nil {
		return err
	}

	m, err := loadModel(ref, storeDir)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	if html == "" {
		return render.Model(cmd.OutOrStdout(), m, render.Options{MaxRows: maxRows, NoColor: flagBool(cmd, noColorFlag)})
	}

	err = writeFile(html, func(w io.Writer) error { return render.Page(w, m) })
	if err != nil {
		return fmt.Errorf("write html: %w", err)
	}

	if !flagBool(cmd, quietFlag) {
		fmt.Fprintf(cmd.ErrOrStderr(), "progress: wrote %s\n", html)
	}

	return nil
}

// resolveStoreDir returns --store, or store.dir from the configuration.
func resolveStoreDir(cmd *cobra.Command) (string, error) {
	if dir := flagString(cmd, storeFlag); dir != "" {
		return dir, nil
	}

	cfg, err := config.LoadConfig(flagString(cmd, configFlag))
	if err != nil {
		return "", err
	}

	return cfg.Store.Dir, nil
}
