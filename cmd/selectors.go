package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/haggle-cli/internal/selectors"
)

func newSelectorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selectors",
		Short: "Print the selector chains in the order they are tried",
		Long: `Print every logical UI element with its ordered fallback chain.
The built-in chains are shown unless --selectors-file points to an override file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			set, err := selectors.Load(cfg.Selectors.File)
			if err != nil {
				return usageError(err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, name := range set.Names() {
				for i, sel := range set.Chain(name) {
					label := ""
					if i == 0 {
						label = name
					}
					fmt.Fprintf(w, "%s\t%d\t%s\n", label, i+1, sel.Raw)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("selectors-file", "", "YAML file overriding the built-in selector chains")
	return cmd
}
