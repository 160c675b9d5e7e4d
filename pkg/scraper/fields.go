package scraper

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/normalize"
)

// Endpoints used by the scraper.
const (
	SearchEndpoint = "tweets/search/all"
	LookupEndpoint = "tweets"
)

// DefaultPageSize is the max_results of search requests.
const DefaultPageSize = 500

// TimestampLayout is the start_time/end_time format of the search endpoint.
const TimestampLayout = "2006-01-02T15:04:05Z"

// DateLayout is the format of dates given on the command line.
const DateLayout = "2006-01-02"

var (
	mediaFields = []string{"duration_ms", "height", "media_key", "preview_image_url", "type", "url", "width", "public_metrics"}
	placeFields = []string{"contained_within", "country", "country_code", "full_name", "geo", "id", "name", "place_type"}
	pollFields  = []string{"duration_minutes", "end_datetime", "id", "options", "voting_status"}
	tweetFields = []string{"attachments", "author_id", "context_annotations", "conversation_id", "created_at", "entities", "geo", "id",
		"in_reply_to_user_id", "lang", "public_metrics", "possibly_sensitive", "referenced_tweets", "reply_settings", "source", "text", "withheld"}
	userFields = []string{"created_at", "description", "entities", "id", "location", "name", "pinned_tweet_id", "profile_image_url",
		"protected", "public_metrics", "url", "username", "verified", "withheld"}
)

// QueryFields returns the expansion and field parameters sent with every
// request. The expansions match normalize.DefaultRules.
func QueryFields() url.Values {
	return url.Values{
		"expansions":   {strings.Join(normalize.Expansions(normalize.DefaultRules), ",")},
		"media.fields": {strings.Join(mediaFields, ",")},
		"place.fields": {strings.Join(placeFields, ",")},
		"poll.fields":  {strings.Join(pollFields, ",")},
		"tweet.fields": {strings.Join(tweetFields, ",")},
		"user.fields":  {strings.Join(userFields, ",")},
	}
}

// FormatTimestamp renders t in UTC for start_time and end_time.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseDate accepts a yyyy-mm-dd date or epoch milliseconds and returns the
// instant in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want yyyy-mm-dd or epoch milliseconds", s)
	}
	return t, nil
}

// DateRange is an inclusive range of days given by the user.
type DateRange struct {
	From time.Time
	To   time.Time

	// FromLabel and ToLabel are the dates as given, used in file names.
	FromLabel string
	ToLabel   string
}

// NewDateRange parses from and to with ParseDate.
func NewDateRange(from, to string) (DateRange, error) {
	f, err := ParseDate(from)
	if err != nil {
		return DateRange{}, fmt.Errorf("from: %w", err)
	}
	t, err := ParseDate(to)
	if err != nil {
		return DateRange{}, fmt.Errorf("to: %w", err)
	}
	if t.Before(f) {
		return DateRange{}, fmt.Errorf("to (%s) is before from (%s)", to, from)
	}
	return DateRange{
		From:      f,
		To:        t,
		FromLabel: strings.TrimSpace(from),
		ToLabel:   strings.TrimSpace(to),
	}, nil
}

// StartTime is the start_time parameter.
func (r DateRange) StartTime() string {
	return FormatTimestamp(r.From)
}

// EndTime is the end_time parameter. The API excludes end_time, so one day
// is added to include the last day.
func (r DateRange) EndTime() string {
	return FormatTimestamp(r.To.AddDate(0, 0, 1))
}

// Label is "<from>_<to>" as given by the user.
func (r DateRange) Label() string {
	from, to := r.FromLabel, r.ToLabel
	if from == "" {
		from = r.From.Format(DateLayout)
	}
	if to == "" {
		to = r.To.Format(DateLayout)
	}
	return from + "_" + to
}
