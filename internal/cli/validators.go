package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validatorsCmd)
}

var validatorsCmd = &cobra.Command{
	Use:     "validators",
	Aliases: []string{"roster"},
	Short:   "List the configured validator roster",
	RunE:    runValidators,
}

func runValidators(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	roster, err := cfg.Roster()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSPECIALIZATION\tSPEED\tACCURACY")
	for _, v := range roster {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%.0f%%\n", v.ID, v.Name, v.Specialization, v.Speed, v.Accuracy*100)
	}
	return w.Flush()
}
