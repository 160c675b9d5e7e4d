// Package scraper runs the batch jobs of tweetfetch: date range searches,
// conversation threads, retweets of a tweet and ID lookups.
//
// Every job writes one NDJSON record per normalized tweet into the
// destination directory. Searches record their cursor after every written
// page in a checkpoint store, so running the same job again continues where
// the previous run stopped.
//
// # Files
//
//   - Search:        <name>.ndjson
//   - Conversations: conversation-<id>_<from>_<to>.ndjson
//   - Retweets:      <id>-retweets.ndjson
//   - Hydrate:       <name>.ndjson
//
// # Usage
//
//	s, err := scraper.New(apiClient, scraper.Config{DestDir: "out"})
//	r, err := scraper.NewDateRange("2021-01-01", "2021-01-31")
//	stats, err := s.Search(ctx, "covid", "covid lang:da", r, "")
package scraper
