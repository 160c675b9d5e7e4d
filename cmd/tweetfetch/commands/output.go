package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/scraper"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	OutputFormatTable = "table"
	OutputFormatJSON  = "json"
	OutputFormatYAML  = "yaml"
)

// outputFormat returns the --output value.
func outputFormat() string {
	return viper.GetString("output")
}

// encode writes v as JSON or YAML. It reports false for the table format.
func encode(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case OutputFormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return true, encoder.Encode(v)
	case OutputFormatYAML:
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return true, encoder.Encode(v)
	case OutputFormatTable, "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

type statsRow struct {
	Output   string `json:"output" yaml:"output"`
	Pages    int    `json:"pages" yaml:"pages"`
	Entities int    `json:"entities" yaml:"entities"`
	Resumed  string `json:"resumed,omitempty" yaml:"resumed,omitempty"`
}

// printStats reports finished jobs on the command output.
func printStats(cmd *cobra.Command, stats ...scraper.Stats) error {
	rows := make([]statsRow, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, statsRow{Output: s.Output, Pages: s.Pages, Entities: s.Entities, Resumed: s.Resumed})
	}

	w := cmd.OutOrStdout()
	if done, err := encode(w, outputFormat(), rows); done {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Output", "Pages", "Entities", "Resumed From")
	for _, r := range rows {
		_ = table.Append(r.Output, strconv.Itoa(r.Pages), strconv.Itoa(r.Entities), r.Resumed)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}
