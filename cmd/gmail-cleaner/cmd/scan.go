package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sruckh/gmail-cleaner/internal/engine"
	"github.com/sruckh/gmail-cleaner/internal/filter"
	"github.com/sruckh/gmail-cleaner/internal/job"
)

var (
	scanLimit      int
	scanOlderThan  int
	scanAfterDate  string
	scanBeforeDate string
	scanLargerThan string
	scanCategory   string
	scanSender     string
	scanLabel      string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the mailbox and list senders by volume",
	Long: `Scan the mailbox for matching messages, aggregate them by sender
address and print the senders sorted by message count.

Examples:
  gmail-cleaner scan --limit 2000
  gmail-cleaner scan --older-than 90 --category promotions
  gmail-cleaner scan --larger-than 5M`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newGmailClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		f := filter.Filter{
			OlderThanDays: scanOlderThan,
			AfterDate:     scanAfterDate,
			BeforeDate:    scanBeforeDate,
			LargerThan:    scanLargerThan,
			Category:      scanCategory,
			Sender:        scanSender,
			Label:         scanLabel,
		}

		opts := engine.Options{
			ChunkSize:   cfg.Engine.ChunkSize,
			MaxRetries:  cfg.Engine.MaxRetries,
			BackoffBase: cfg.Engine.BackoffBase(),
			PageSize:    cfg.Engine.PageSize,
			MaxCollect:  cfg.Engine.MaxCollect,
		}
		eng := engine.New(client, job.NewRegistry(), opts, logger)
		defer eng.Close()

		if err := eng.StartDeleteScan(f, scanLimit); err != nil {
			return err
		}

		// Poll until the scan finishes, echoing progress.
		lastMsg := ""
		for {
			st := eng.Jobs().Status(job.KindDeleteScan)
			if st.Message != lastMsg {
				fmt.Fprintf(os.Stderr, "%s\n", st.Message)
				lastMsg = st.Message
			}
			if st.Done {
				if st.Error != "" {
					return fmt.Errorf("scan failed: %s", st.Error)
				}
				break
			}
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(200 * time.Millisecond):
			}
		}

		results, err := eng.DeleteScanResults()
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No senders found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COUNT\tSENDER\tEMAIL\tFIRST\tLAST")
		for _, s := range results {
			first, last := "", ""
			if !s.FirstDate.IsZero() {
				first = s.FirstDate.Format("2006-01-02")
			}
			if !s.LastDate.IsZero() {
				last = s.LastDate.Format("2006-01-02")
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.Count, s.Name, s.Email, first, last)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "max messages to scan (default 1000, max 10000)")
	scanCmd.Flags().IntVar(&scanOlderThan, "older-than", 0, "only messages older than N days")
	scanCmd.Flags().StringVar(&scanAfterDate, "after", "", "only messages after date (YYYY/MM/DD)")
	scanCmd.Flags().StringVar(&scanBeforeDate, "before", "", "only messages before date (YYYY/MM/DD)")
	scanCmd.Flags().StringVar(&scanLargerThan, "larger-than", "", "only messages larger than size (e.g. 5M)")
	scanCmd.Flags().StringVar(&scanCategory, "category", "", "only messages in a Gmail category")
	scanCmd.Flags().StringVar(&scanSender, "sender", "", "only messages from a sender or domain")
	scanCmd.Flags().StringVar(&scanLabel, "label", "", "only messages carrying a label")
}
