package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var journalLimit int

var journalCmd = &cobra.Command{
	Use:   "journal [id]",
	Short: "列出本地记录的已签名/已广播交易",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := openJournal()
		if err != nil {
			return err
		}
		if j == nil {
			return errors.New("journal is disabled (journal.enabled=false)")
		}
		defer j.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			r, err := j.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "id\t: %s\nkind\t: %s\ncurrency\t: %s %s\nfrom\t: %s\nto\t: %s\namount\t: %s\nfee\t: %s\ntxid\t: %s\nat\t: %s\n",
				r.ID, r.Kind, r.Currency, r.Network, r.From, r.To, r.Amount, r.Fee, r.TxID, r.At.Format("2006-01-02 15:04:05"))
			if r.SignedTx != "" {
				fmt.Fprintf(out, "signed\t: %s\n", r.SignedTx)
			}
			return nil
		}

		records, err := j.List(journalLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tCURRENCY\tNETWORK\tAMOUNT\tTO\tTXID\tAT")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Kind, r.Currency, r.Network, r.Amount, r.To, r.TxID, r.At.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.Flags().IntVar(&journalLimit, "limit", 20, "number of records to show, newest first")
}
