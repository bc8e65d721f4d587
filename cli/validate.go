package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/kasuganosora/questkeeper/config"
	"github.com/kasuganosora/questkeeper/game/quest"
	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [definitions-file]",
		Short: "Validate quest definitions without starting the service",
		Long: `Validate quest and pool definitions and print a summary.

Without an argument the definitions file named by quest.definitions_path in
the config is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := definitionsPath(rootOpts, args)
			if err != nil {
				return err
			}
			return runValidate(path, cmd.OutOrStdout())
		},
	}
}

func definitionsPath(opts *RootOptions, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if _, err := os.Stat(opts.ConfigPath); err != nil {
		return config.Default().Quest.DefinitionsPath, nil
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("config: %w", err)
	}
	return cfg.Quest.DefinitionsPath, nil
}

func runValidate(path string, out io.Writer) error {
	defs, err := quest.LoadDefinitions(path)
	if err != nil {
		return err
	}
	types, err := quest.DefaultTypes()
	if err != nil {
		return err
	}
	reg, err := quest.Build(quest.NewRuntime(context.Background(), quest.Deps{}), types, defs)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "QUEST\tNAME\tBRANCHES\tREPEATABLE\tPOOL")
	for _, q := range reg.Quests() {
		pool := "-"
		if p := q.Pool(); p != nil {
			pool = fmt.Sprint(p.ID())
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%s\n", q.ID(), q.Name(), len(q.Branches()), q.Repeatable(), pool)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d quests, %d pools OK\n", path, len(reg.Quests()), len(reg.Pools()))
	return nil
}
