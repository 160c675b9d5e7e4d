package commands

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/ratelimit"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// LimitRow is one endpoint of the limits output.
type LimitRow struct {
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	Limit       int    `json:"limit" yaml:"limit"`
	Remaining   int    `json:"remaining" yaml:"remaining"`
	MinInterval string `json:"min_interval" yaml:"min_interval"`
}

// LimitRows returns the rows of limits sorted by endpoint.
func LimitRows(limits map[string]ratelimit.EndpointLimit) []LimitRow {
	rows := make([]LimitRow, 0, len(limits))
	for endpoint, l := range limits {
		rows = append(rows, LimitRow{
			Endpoint:    endpoint,
			Limit:       l.Limit,
			Remaining:   l.Remaining,
			MinInterval: l.MinInterval.String(),
		})
	}
	slices.SortFunc(rows, func(a, b LimitRow) int {
		return cmp.Compare(a.Endpoint, b.Endpoint)
	})
	return rows
}

// NewLimitsCommand creates the limits command.
func NewLimitsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Display the default endpoint quotas",
		Long: `Display the quota every endpoint starts from before the first response
reports the real window. Endpoints missing from the table get a low fallback quota.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := LimitRows(ratelimit.DefaultLimits)

			w := cmd.OutOrStdout()
			if done, err := encode(w, outputFormat(), rows); done {
				return err
			}

			table := tablewriter.NewWriter(w)
			table.Header("Endpoint", "Limit", "Remaining", "Min Interval")
			for _, r := range rows {
				_ = table.Append(r.Endpoint, strconv.Itoa(r.Limit), strconv.Itoa(r.Remaining), r.MinInterval)
			}
			if err := table.Render(); err != nil {
				return fmt.Errorf("failed to render table: %w", err)
			}
			return nil
		},
	}
}
