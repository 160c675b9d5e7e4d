// Package commands implements the tweetfetch command line.
package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand creates the tweetfetch root command with every subcommand.
// Persistent flags are bound to the global viper instance.
func NewRootCommand(version, commit, date string) *cobra.Command {
	root := &cobra.Command{
		Use:   "tweetfetch",
		Short: "Quota-aware bulk fetcher for the v2 tweet API",
		Long: `tweetfetch fetches tweets in bulk from the v2 API: full-archive searches,
conversations, retweets and id lookups. Requests are paced per endpoint to
stay within the quota windows the API reports, failed requests are retried
with backoff and every result is written as normalized NDJSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return LoadConfig(viper.GetString("config"))
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default is ./config.yaml or $HOME/.tweetfetch/config.yaml)")
	flags.BoolP("development-mode", "z", false, "debug level console logging")
	flags.StringP("output", "o", OutputFormatTable, "output format (table, json, yaml)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.String("redis-addr", "", "store checkpoints in the Redis server at this address")
	flags.String("nats-url", "", "also publish every fetched entity to this NATS server")
	flags.String("nats-subject", "", "NATS subject of published entities")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("output", flags.Lookup("output"))
	_ = viper.BindPFlag("log.development", flags.Lookup("development-mode"))
	_ = viper.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	_ = viper.BindPFlag("redis.addr", flags.Lookup("redis-addr"))
	_ = viper.BindPFlag("nats.url", flags.Lookup("nats-url"))
	_ = viper.BindPFlag("nats.subject", flags.Lookup("nats-subject"))

	root.AddCommand(NewVersionCommand(version, commit, date))
	root.AddCommand(NewLimitsCommand())
	root.AddCommand(NewSearchCommand())
	root.AddCommand(NewHydrateCommand())
	root.AddCommand(NewConversationsCommand())
	root.AddCommand(NewRetweetsCommand())
	root.AddCommand(NewConversationIDsCommand())

	return root
}
