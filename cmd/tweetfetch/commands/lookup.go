package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/scraper"
	"github.com/spf13/cobra"
)

// NewHydrateCommand creates the hydrate command.
func NewHydrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hydrate",
		Short: "Look up tweets by id",
		Long: `Look up tweets by id in chunks of 100 and write them into
<destination>/<filename>.ndjson in the order of the given ids.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := ParseCredentials(stringFlag(cmd, flagCredentials))
			if err != nil {
				return err
			}
			ids, err := scraper.ReadIDs(stringFlag(cmd, flagIDs))
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), Config(), creds, stringFlag(cmd, flagDestination))
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.scraper.Hydrate(cmd.Context(), stringFlag(cmd, flagFilename), ids)
			if err != nil {
				return err
			}
			return printStats(cmd, stats)
		},
	}

	addCredentialsFlag(cmd)
	addDestinationFlag(cmd)
	cmd.Flags().StringP(flagIDs, "i", "", "comma separated tweet ids or a file with one id per line")
	cmd.Flags().StringP(flagFilename, "p", "tweets", "result file name without extension")
	_ = cmd.MarkFlagRequired(flagIDs)

	return cmd
}

// NewConversationsCommand creates the conversations command.
func NewConversationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Fetch the tweets of conversations",
		Long: `Fetch every tweet of each conversation within a date range into
<destination>/conversation-<id>_<from>_<to>.ndjson. A failing conversation
does not stop the others; all failures are reported at the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := ParseCredentials(stringFlag(cmd, flagCredentials))
			if err != nil {
				return err
			}
			ids, err := scraper.ReadIDs(stringFlag(cmd, flagIDs))
			if err != nil {
				return err
			}
			r, err := dateRange(cmd)
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), Config(), creds, stringFlag(cmd, flagDestination))
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.scraper.Conversations(cmd.Context(), ids, r)
			if printErr := printStats(cmd, stats...); printErr != nil && err == nil {
				err = printErr
			}
			return err
		},
	}

	addCredentialsFlag(cmd)
	addDestinationFlag(cmd)
	addDateFlags(cmd)
	cmd.Flags().StringP(flagIDs, "i", "", "comma separated conversation ids or a file with one id per line")
	_ = cmd.MarkFlagRequired(flagIDs)

	return cmd
}

// NewRetweetsCommand creates the retweets command.
func NewRetweetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retweets",
		Short: "Fetch the retweets of a tweet",
		Long:  `Fetch the retweets of one tweet into <destination>/<id>-retweets.ndjson.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := ParseCredentials(stringFlag(cmd, flagCredentials))
			if err != nil {
				return err
			}
			tweetID := strings.TrimSpace(stringFlag(cmd, "tweet"))
			if tweetID == "" {
				return fmt.Errorf("tweet id is required")
			}

			s, err := openSession(cmd.Context(), Config(), creds, stringFlag(cmd, flagDestination))
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.scraper.Retweets(cmd.Context(), tweetID)
			if err != nil {
				return err
			}
			return printStats(cmd, stats)
		},
	}

	addCredentialsFlag(cmd)
	addDestinationFlag(cmd)
	cmd.Flags().String("tweet", "", "id of the retweeted tweet")
	_ = cmd.MarkFlagRequired("tweet")

	return cmd
}

// NewConversationIDsCommand creates the conversation-ids command.
func NewConversationIDsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversation-ids",
		Short: "Extract conversation ids from fetched tweets",
		Long: `Read an NDJSON file written by search or hydrate and write the
conversation id of every tweet into <destination>/<out>, one per line. The
result is a valid --ids file for the conversations command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := filepath.Join(stringFlag(cmd, flagDestination), stringFlag(cmd, "out"))
			n, err := scraper.ExtractConversationIDs(stringFlag(cmd, "src"), dest)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d conversation ids to %s\n", n, dest)
			return err
		},
	}

	cmd.Flags().String("src", "", "NDJSON file of tweets")
	addDestinationFlag(cmd)
	cmd.Flags().String("out", "conversation-ids.txt", "output file name")
	_ = cmd.MarkFlagRequired("src")

	return cmd
}
