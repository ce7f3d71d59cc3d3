package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/adamancini/otaup/internal/output"
	"github.com/adamancini/otaup/internal/update"
)

// checkReport is the printed result of a bounded update check.
type checkReport struct {
	Outcome     string `json:"outcome" yaml:"outcome"` // resolved, no_update, timed_out
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
	Hash        string `json:"package_hash,omitempty" yaml:"package_hash,omitempty"`
	AppVersion  string `json:"app_version,omitempty" yaml:"app_version,omitempty"`
	Source      string `json:"source,omitempty" yaml:"source,omitempty"` // remote or local
	DownloadURL string `json:"download_url,omitempty" yaml:"download_url,omitempty"`
}

func (r checkReport) Fields() []output.Field {
	fields := []output.Field{{Name: "Outcome", Value: r.Outcome}}
	if r.Label != "" {
		fields = append(fields,
			output.Field{Name: "Label", Value: r.Label},
			output.Field{Name: "Hash", Value: r.Hash},
			output.Field{Name: "App version", Value: r.AppVersion},
			output.Field{Name: "Source", Value: r.Source},
		)
	}
	if r.DownloadURL != "" {
		fields = append(fields, output.Field{Name: "Download URL", Value: r.DownloadURL})
	}
	return fields
}

func newCheckReport(outcome update.CheckOutcome) checkReport {
	switch o := outcome.(type) {
	case *update.TimedOut:
		return checkReport{Outcome: "timed_out"}
	case *update.Resolved:
		if o.Package == nil {
			return checkReport{Outcome: "no_update"}
		}
		r := checkReport{
			Outcome:    "resolved",
			Label:      o.Package.Label(),
			Hash:       o.Package.Hash(),
			AppVersion: o.Package.AppVersion(),
		}
		switch p := o.Package.(type) {
		case update.LocalPackage:
			r.Source = "local"
		case update.RemotePackage:
			r.Source = "remote"
			r.DownloadURL = p.DownloadURL()
		}
		return r
	}
	return checkReport{Outcome: "unknown"}
}

func newCheckCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check for an update without installing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, "")
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("timeout") {
				timeout = s.cfg.CheckTimeout
			}

			outcome, err := update.CheckWithTimeout(cmd.Context(), s.client, timeout)
			if err != nil {
				return err
			}
			return s.out.Write(newCheckReport(outcome))
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Override the configured check timeout")

	return cmd
}
