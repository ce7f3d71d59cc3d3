package cmd

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamancini/otaup/internal/distribution"
	"github.com/adamancini/otaup/internal/output"
)

// statusReport is the printed install state.
type statusReport struct {
	ClientID   string                    `json:"client_id" yaml:"client_id"`
	AppVersion string                    `json:"app_version" yaml:"app_version"`
	Current    *distribution.PackageInfo `json:"current,omitempty" yaml:"current,omitempty"`
	Previous   *distribution.PackageInfo `json:"previous,omitempty" yaml:"previous,omitempty"`
	Pending    *distribution.PackageInfo `json:"pending,omitempty" yaml:"pending,omitempty"`
	Confirmed  bool                      `json:"confirmed" yaml:"confirmed"`
	Boots      int                       `json:"boots" yaml:"boots"`
	Failed     []string                  `json:"failed_hashes,omitempty" yaml:"failed_hashes,omitempty"`
}

func newStatusReport(appVersion string, st distribution.State) statusReport {
	return statusReport{
		ClientID:   st.ClientID,
		AppVersion: appVersion,
		Current:    st.Current,
		Previous:   st.Previous,
		Pending:    st.Pending,
		Confirmed:  st.Confirmed,
		Boots:      st.Boots,
		Failed:     st.Failed,
	}
}

func (r statusReport) Fields() []output.Field {
	failed := "-"
	if len(r.Failed) > 0 {
		short := make([]string, len(r.Failed))
		for i, h := range r.Failed {
			short[i] = shortHash(h)
		}
		failed = strings.Join(short, ", ")
	}

	return []output.Field{
		{Name: "Client ID", Value: r.ClientID},
		{Name: "App version", Value: r.AppVersion},
		{Name: "Current", Value: describePackage(r.Current)},
		{Name: "Confirmed", Value: strconv.FormatBool(r.Confirmed)},
		{Name: "Previous", Value: describePackage(r.Previous)},
		{Name: "Pending", Value: describePackage(r.Pending)},
		{Name: "Failed", Value: failed},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show installed, pending and rolled back packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, "")
			if err != nil {
				return err
			}
			return s.out.Write(newStatusReport(s.cfg.AppVersion, s.client.Store().State()))
		},
	}
}
