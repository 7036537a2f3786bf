package commands

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/karripar/va-hybrid-api/pkg/catalog"
)

type catalogView struct {
	Phases           []phaseView         `yaml:"phases"`
	BudgetCategories []string            `yaml:"budget_categories"`
	GrantSources     map[string][]string `yaml:"grant_sources"`
	Platforms        []catalog.Platform  `yaml:"platforms"`
	Fallback         string              `yaml:"fallback_source_type"`
}

type phaseView struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"`
	Predecessor string `yaml:"predecessor,omitempty"`
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the effective static catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(describeCatalog(cat))
		},
	}
	return cmd
}

func describeCatalog(cat *catalog.Catalog) catalogView {
	view := catalogView{
		BudgetCategories: cat.Categories(),
		GrantSources:     map[string][]string{},
		Platforms:        cat.Platforms(),
		Fallback:         cat.FallbackSourceType(),
	}
	for _, id := range cat.Phases() {
		prev, _ := cat.Predecessor(id)
		view.Phases = append(view.Phases, phaseView{ID: id, Label: cat.PhaseLabel(id), Predecessor: prev})
	}
	for _, source := range cat.GrantSources() {
		view.GrantSources[source] = cat.GrantKinds(source)
	}
	return view
}
