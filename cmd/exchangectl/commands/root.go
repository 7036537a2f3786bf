// Package commands implements the exchangectl operator CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/karripar/va-hybrid-api/pkg/catalog"
)

var catalogPath string

// Execute runs the CLI with the process arguments.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "exchangectl",
		Short:         "Operator tools for the exchange application service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&catalogPath, "catalog", "", "catalog override file (default embedded catalog)")

	root.AddCommand(classifyCmd(), probeCmd(), compareCmd(), catalogCmd())
	return root
}

func loadCatalog() (*catalog.Catalog, error) {
	if catalogPath == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(catalogPath)
}
