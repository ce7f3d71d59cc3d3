package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamancini/otaup/internal/autoupdate"
	"github.com/adamancini/otaup/internal/device"
	"github.com/adamancini/otaup/internal/logging"
)

func newRunCmd() *cobra.Command {
	var (
		preInstall     string
		restartCmd     string
		wait           time.Duration
		checkTimeout   time.Duration
		installTimeout time.Duration
		emulator       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check for an update and install it within the time budget",
		Long: `Run one startup update cycle.

A previous update that never reported ready is rolled back first. Then the
service is asked for a newer package. If the answer arrives within the check
timeout, the package is installed right away, bounded by the install timeout.
Otherwise the check continues in the background and its package is installed
for the next resume.

Update failures are logged, never returned: run only fails on bad config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, restartCmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if rolled, err := s.client.RecoverFailedUpdate(ctx); err != nil {
				s.log.Warn().Err(err).Msg("Failed to check the previous update")
			} else if rolled != nil {
				s.log.Warn().Str(logging.KeyLabel, rolled.Label).Msg("Rolled back update")
			}

			policy, err := device.ParsePolicy(s.cfg.UnknownDevicePolicy)
			if err != nil {
				return err
			}

			var detector device.Detector = device.NewHostDetector()
			switch emulator {
			case "yes":
				detector = device.Static(true)
			case "no":
				detector = device.Static(false)
			}

			if !cmd.Flags().Changed("check-timeout") {
				checkTimeout = s.cfg.CheckTimeout
			}
			if !cmd.Flags().Changed("install-timeout") {
				installTimeout = s.cfg.InstallTimeout
			}

			var hook autoupdate.PreInstallHook
			if preInstall != "" {
				hook = shellHook(preInstall)
			}

			u := autoupdate.New(s.client, detector,
				autoupdate.WithLogger(s.log),
				autoupdate.WithUnknownDevicePolicy(policy),
			)
			u.AutoUpdate(ctx, checkTimeout, installTimeout, hook)

			if wait > 0 {
				waitCtx, cancel := context.WithTimeout(ctx, wait)
				defer cancel()
				if err := u.Wait(waitCtx); err != nil {
					s.log.Warn().Dur(logging.KeyDuration, wait).Msg("Background update still running, giving up")
				}
			}

			return s.out.Write(newStatusReport(s.cfg.AppVersion, s.client.Store().State()))
		},
	}

	cmd.Flags().StringVar(&preInstall, "pre-install", "", "Shell command to run before an immediate install")
	cmd.Flags().StringVar(&restartCmd, "restart", "", "Shell command to run after an immediate install")
	cmd.Flags().DurationVar(&wait, "wait", time.Minute, "How long to wait for background work before exiting (0 to not wait)")
	cmd.Flags().DurationVar(&checkTimeout, "check-timeout", 0, "Override the configured check timeout")
	cmd.Flags().DurationVar(&installTimeout, "install-timeout", 0, "Override the configured install timeout")
	cmd.Flags().StringVar(&emulator, "emulator", "auto", "Emulator detection: auto, yes, no")

	_ = cmd.RegisterFlagCompletionFunc("emulator", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "yes", "no"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}
