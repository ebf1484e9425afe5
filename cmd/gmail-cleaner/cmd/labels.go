package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sruckh/gmail-cleaner/internal/engine"
	"github.com/sruckh/gmail-cleaner/internal/job"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List the account's labels",
	Long: `List Gmail labels for the authenticated account, system labels
first, then user labels.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newGmailClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		eng := engine.New(client, job.NewRegistry(), engine.DefaultOptions(), logger)
		defer eng.Close()

		set, err := eng.Labels(cmd.Context())
		if err != nil {
			return fmt.Errorf("list labels: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE")
		for _, l := range set.System {
			fmt.Fprintf(w, "%s\t%s\tsystem\n", l.ID, l.Name)
		}
		for _, l := range set.User {
			fmt.Fprintf(w, "%s\t%s\tuser\n", l.ID, l.Name)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}
