package commands

import (
	"fmt"
	"strings"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/scraper"
	"github.com/spf13/cobra"
)

// Flag names shared by the scrape commands.
const (
	flagCredentials = "api-credentials"
	flagDestination = "destination"
	flagFilename    = "filename"
	flagFrom        = "from"
	flagTo          = "to"
	flagIDs         = "ids"
)

const (
	credentialsUsage = "API credentials: TOKEN, KEY:SECRET, KEY:SECRET:TOKEN:TOKEN_SECRET or a file containing one"
	fromUsage        = `first day to fetch, "yyyy-mm-dd" or a timestamp in ms`
	toUsage          = `last day to fetch (included), "yyyy-mm-dd" or a timestamp in ms`
)

func addCredentialsFlag(cmd *cobra.Command) {
	cmd.Flags().StringP(flagCredentials, "k", "", credentialsUsage)
	_ = cmd.MarkFlagRequired(flagCredentials)
}

func addDestinationFlag(cmd *cobra.Command) {
	cmd.Flags().StringP(flagDestination, "d", "", "directory receiving the results")
	_ = cmd.MarkFlagRequired(flagDestination)
}

func addDateFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(flagFrom, "f", "", fromUsage)
	cmd.Flags().StringP(flagTo, "t", "", toUsage)
	_ = cmd.MarkFlagRequired(flagFrom)
	_ = cmd.MarkFlagRequired(flagTo)
}

func dateRange(cmd *cobra.Command) (scraper.DateRange, error) {
	from, _ := cmd.Flags().GetString(flagFrom)
	to, _ := cmd.Flags().GetString(flagTo)
	return scraper.NewDateRange(from, to)
}

// NewSearchCommand creates the search command.
func NewSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Fetch every tweet matching a query",
		Long: `Fetch every tweet matching a full-archive search query within a date range
into <destination>/<filename>.ndjson, one normalized tweet per line.

An interrupted search resumes from its last checkpoint when run again with
the same arguments. --resume starts from an explicit cursor instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := ParseCredentials(stringFlag(cmd, flagCredentials))
			if err != nil {
				return err
			}
			r, err := dateRange(cmd)
			if err != nil {
				return err
			}
			query := stringFlag(cmd, "query")
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("query is required")
			}
			resume := stringFlag(cmd, "resume")

			s, err := openSession(cmd.Context(), Config(), creds, stringFlag(cmd, flagDestination))
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.scraper.Search(cmd.Context(), stringFlag(cmd, flagFilename), query, r, resume)
			if err != nil {
				return err
			}
			return printStats(cmd, stats)
		},
	}

	addCredentialsFlag(cmd)
	addDestinationFlag(cmd)
	addDateFlags(cmd)
	cmd.Flags().StringP("query", "q", "", "search query")
	cmd.Flags().StringP(flagFilename, "p", "", `result file name without extension (default "tweets_<from>_<to>")`)
	cmd.Flags().String("resume", "", "next_token cursor to resume from")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

// stringFlag reads a string flag defined on cmd. Unknown flags read as "".
func stringFlag(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
