package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"disclosure_report_drafter/standards"
)

var standardsCmd = &cobra.Command{
	Use:   "standards [id...]",
	Short: "List known standard identifiers or print their reference text",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), standards.Lookup(args))
			return nil
		}
		table, err := standards.Default()
		if err != nil {
			return err
		}
		for _, id := range table.IDs() {
			e, _ := table.Get(id)
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", e.ID, e.Title)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(standardsCmd)
}
