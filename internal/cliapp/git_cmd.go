package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGitCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "git",
		Short: "Manage the shared bare-repo mirror store",
	}
	root.AddCommand(&cobra.Command{
		Use:   "update",
		Short: "Fetch every known repo's bare mirror",
		RunE: func(_ *cobra.Command, _ []string) error {
			errs := app.Store.UpdateAllRepos()
			for repo, err := range errs {
				fmt.Printf("%s: %v\n", repo, err)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d repo(s) failed to update", len(errs))
			}
			return nil
		},
	})
	return root
}
