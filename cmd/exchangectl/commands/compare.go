package commands

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/karripar/va-hybrid-api/internal/service"
)

func compareCmd() *cobra.Command {
	var budget, support string
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare estimated support against a budget total",
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := decimal.NewFromString(budget)
			if err != nil {
				return fmt.Errorf("invalid --budget %q: %w", budget, err)
			}
			supported, err := decimal.NewFromString(support)
			if err != nil {
				return fmt.Errorf("invalid --support %q: %w", support, err)
			}
			if total.IsNegative() || supported.IsNegative() {
				return fmt.Errorf("amounts must not be negative")
			}

			cmp := service.CompareBudget(total, supported)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "budget:     %s\n", cmp.BudgetTotal.StringFixed(2))
			fmt.Fprintf(out, "support:    %s\n", cmp.TotalEstimatedSupport.StringFixed(2))
			fmt.Fprintf(out, "difference: %s\n", cmp.Difference.StringFixed(2))
			fmt.Fprintf(out, "coverage:   %d%%\n", cmp.CoveragePercentage)
			fmt.Fprintf(out, "status:     %s\n", cmp.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&budget, "budget", "0", "budget total")
	cmd.Flags().StringVar(&support, "support", "0", "total estimated support")
	return cmd
}
