package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kelvin-core/pkg/errno"
)

var currenciesCmd = &cobra.Command{
	Use:   "currencies",
	Short: "列出支持的币种与网络",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		reg, cleanup, err := buildRegistry(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CURRENCY\tSYMBOL\tDECIMALS\tFEE UNIT\tNETWORKS")
		for _, name := range reg.Names() {
			cur, err := reg.Resolve(name)
			if err != nil {
				return err
			}
			unit, err := cur.FeeUnit()
			if errors.Is(err, errno.ErrFeeNotApplicable) {
				unit = "-"
			} else if err != nil {
				return err
			}
			ex := cur.Extras()
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", name, ex.Symbol, ex.Decimals, unit, strings.Join(cur.Networks(), ", "))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(currenciesCmd)
}
