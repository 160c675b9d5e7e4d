package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/page"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/pagination"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/sink"
)

// ErrTweetNotFound is returned by Retweets when the original tweet cannot be
// looked up.
var ErrTweetNotFound = errors.New("tweet not found")

// maxRetweetQueryText bounds the quoted text of a retweet query.
const maxRetweetQueryText = 100

// Search writes every tweet matching query within r into <name>.ndjson. An
// empty name uses "tweets_<from>_<to>". A non-empty resume cursor appends
// to the existing file from that cursor on.
func (s *Scraper) Search(ctx context.Context, name, query string, r DateRange, resume string) (Stats, error) {
	if strings.TrimSpace(query) == "" {
		return Stats{}, fmt.Errorf("query is required")
	}
	if strings.TrimSpace(name) == "" {
		name = "tweets_" + r.Label()
	}

	params := s.searchParams(query)
	params.Set("start_time", r.StartTime())
	params.Set("end_time", r.EndTime())

	return s.paginate(ctx, job{
		operation: "search",
		params:    params,
		output:    name + ".ndjson",
		resume:    resume,
	})
}

// Conversations writes the tweets of every conversation within r into its
// own file. A failing conversation does not stop the others; all failures
// are joined into the returned error.
func (s *Scraper) Conversations(ctx context.Context, ids []string, r DateRange) ([]Stats, error) {
	var (
		all  []Stats
		errs []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		params := s.searchParams("conversation_id:" + id)
		params.Set("start_time", r.StartTime())
		params.Set("end_time", r.EndTime())

		stats, err := s.paginate(ctx, job{
			operation: "conversation",
			params:    params,
			output:    fmt.Sprintf("conversation-%s_%s.ndjson", id, r.Label()),
		})
		if err != nil {
			s.logger.Error().Err(err).Str("conversation_id", id).Msg("Conversation failed")
			errs = append(errs, fmt.Errorf("conversation %s: %w", id, err))
			continue
		}
		all = append(all, stats)
	}
	return all, errors.Join(errs...)
}

// Retweets writes the retweets of tweetID into <tweetID>-retweets.ndjson.
// The search matches the author and the start of the text, so results are
// filtered to tweets that reference tweetID.
func (s *Scraper) Retweets(ctx context.Context, tweetID string) (Stats, error) {
	params := QueryFields()
	params.Set("ids", tweetID)

	lookup, err := s.api.FetchPage(ctx, LookupEndpoint, params)
	if err != nil {
		return Stats{}, fmt.Errorf("look up tweet %s: %w", tweetID, err)
	}
	if len(lookup.Data) == 0 {
		return Stats{}, fmt.Errorf("%w: %s", ErrTweetNotFound, tweetID)
	}
	original := lookup.Data[0]

	authorID, _ := original.String("author_id")
	text, _ := original.String("text")
	createdAt, _ := original.String("created_at")

	search := s.searchParams(RetweetQuery(authorID, text))
	if createdAt != "" {
		search.Set("start_time", createdAt)
	}

	return s.paginate(ctx, job{
		operation: "retweets",
		params:    search,
		output:    tweetID + "-retweets.ndjson",
		keep: func(e page.Entity) bool {
			return references(e, tweetID)
		},
	})
}

// RetweetQuery builds the search query for retweets of a tweet by authorID.
// Text longer than 100 characters is cut at the last space before that.
func RetweetQuery(authorID, text string) string {
	if utf8.RuneCountInString(text) > maxRetweetQueryText {
		text = string([]rune(text)[:maxRetweetQueryText])
		if i := strings.LastIndex(text, " "); i >= 0 {
			text = text[:i]
		}
	}
	return fmt.Sprintf(`retweets_of:%s "%s"`, authorID, text)
}

// references reports whether e lists id among its referenced tweets.
func references(e page.Entity, id string) bool {
	v, ok := e.Get("referenced_tweets")
	if !ok {
		return false
	}
	refs, ok := v.([]any)
	if !ok {
		return false
	}
	for _, ref := range refs {
		if obj, ok := ref.(map[string]any); ok {
			if refID, ok := page.IDString(obj["id"]); ok && refID == id {
				return true
			}
		}
	}
	return false
}

// Hydrate looks up ids in chunks of 100 and writes the tweets into
// <name>.ndjson in the order of ids. An empty name uses "tweets".
func (s *Scraper) Hydrate(ctx context.Context, name string, ids []string) (Stats, error) {
	if strings.TrimSpace(name) == "" {
		name = "tweets"
	}
	stats := Stats{Output: name + ".ndjson"}

	out, err := s.open(stats.Output, false)
	if err != nil {
		return stats, err
	}

	err = s.batch.FetchAll(ctx, LookupEndpoint, ids, QueryFields(), func(res pagination.ChunkResult) error {
		if err := sink.WritePage(ctx, out, res.Page); err != nil {
			return err
		}
		stats.Pages++
		stats.Entities += len(res.Page.Data)
		return nil
	})
	if err != nil {
		if dErr := sink.Discard(out); dErr != nil {
			s.logger.Error().Err(dErr).Msg("Failed to discard partial chunk")
		}
	}
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		jobsTotal.WithLabelValues("hydrate", "error").Inc()
		return stats, err
	}

	jobsTotal.WithLabelValues("hydrate", "ok").Inc()
	s.logger.Info().
		Str("operation", "hydrate").
		Int("ids", len(ids)).
		Int("entities", stats.Entities).
		Msg("Job complete")
	return stats, nil
}
