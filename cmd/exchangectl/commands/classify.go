package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karripar/va-hybrid-api/internal/service"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify URL...",
		Short: "Print the hosting platform of each link",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog()
			if err != nil {
				return err
			}
			for _, raw := range args {
				valid := "valid"
				if err := service.ValidateLinkURL(raw); err != nil {
					valid = "invalid"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", service.ClassifyURL(cat, raw), valid, raw)
			}
			return nil
		},
	}
	return cmd
}
