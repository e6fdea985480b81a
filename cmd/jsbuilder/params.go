package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/narvanalabs/jsbuilder/internal/models"
)

// bindParams registers the bundle request flags on cmd.
func bindParams(cmd *cobra.Command, p *models.RawParams) {
	f := cmd.Flags()
	f.StringVar(&p.Owner, "owner", "", "Source owner")
	f.StringVar(&p.Repo, "repo", "", "Source repository")
	f.StringVar(&p.Ref, "ref", "", "Source ref")
	f.StringVar(&p.Name, "name", "", "Output name; the extension selects the delivery type (default <repo>.js)")
	f.StringVar(&p.Include, "include", "", "Comma-separated modules to include (default main)")
	f.StringVar(&p.Exclude, "exclude", "", "Comma-separated modules to exclude")
	f.StringVar(&p.External, "external", "", "Comma-separated external modules")
	f.StringVar(&p.Optimize, "optimize", "", "Minify the bundle (true/false)")
	f.StringVar(&p.Wrap, "wrap", "", "Wrap object as JSON")
	f.StringVar(&p.Pragmas, "pragmas", "", "Pragmas object as JSON")
	f.StringVar(&p.PragmasOnSave, "pragmas-on-save", "", "Save-time pragmas object as JSON")
	f.StringVar(&p.Filter, "filter", "", "Post-processing filter id")
}

func checkSource(p *models.RawParams) error {
	if p.Owner == "" || p.Repo == "" || p.Ref == "" {
		return errors.New("--owner, --repo and --ref are required")
	}
	return nil
}
