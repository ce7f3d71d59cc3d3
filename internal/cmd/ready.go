package cmd

import (
	"github.com/spf13/cobra"
)

func newReadyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Confirm the running update so it is not rolled back",
		Long: `Confirm that the app started successfully on the current package.

Until ready is called, the next run rolls the package back to the previous
one. The first confirmation of a package is reported to the service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, "")
			if err != nil {
				return err
			}

			if err := s.client.NotifyAppReady(cmd.Context()); err != nil {
				return err
			}
			return s.out.Write(newStatusReport(s.cfg.AppVersion, s.client.Store().State()))
		},
	}
}
