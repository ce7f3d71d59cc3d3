package cmd

import (
	"github.com/spf13/cobra"

	"github.com/adamancini/otaup/internal/output"
)

type resumeReport struct {
	Applied bool   `json:"applied" yaml:"applied"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty"`
}

func (r resumeReport) Fields() []output.Field {
	if !r.Applied {
		return []output.Field{{Name: "Applied", Value: "no pending update"}}
	}
	return []output.Field{{Name: "Applied", Value: r.Label}}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Apply an update that was installed for the next resume",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, "")
			if err != nil {
				return err
			}

			applied, err := s.client.ApplyPending(cmd.Context())
			if err != nil {
				return err
			}

			report := resumeReport{}
			if applied != nil {
				report = resumeReport{Applied: true, Label: applied.Label}
			}
			return s.out.Write(report)
		},
	}
}
