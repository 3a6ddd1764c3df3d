package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kim-em/bubble/internal/provisioner"
)

func newDoctorCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Reconcile the bubble registry against the running containers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			discrepancies, err := provisioner.Reconcile(cmd.Context(), app.RT, app.Lifecycle)
			if err != nil {
				return err
			}
			if len(discrepancies) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no discrepancies found")
				return nil
			}
			if app.Metrics != nil {
				for _, d := range discrepancies {
					app.Metrics.DoctorDiscrepancies.WithLabelValues(d.Kind).Inc()
				}
			}
			for _, d := range discrepancies {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", d.Kind, d.Name)
				if d.Kind == provisioner.KindOrphanedRegistryEntry {
					if confirm(cmd, fmt.Sprintf("remove orphaned registry entry %q?", d.Name)) {
						if err := provisioner.Resolve(d, app.Lifecycle); err != nil {
							app.Logger.Warn("doctor: resolving discrepancy failed", "name", d.Name, "error", err)
						}
					}
				}
			}
			return nil
		},
	}
}
