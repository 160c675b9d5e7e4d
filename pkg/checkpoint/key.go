package checkpoint

import (
	"net/url"
	"sort"
	"strings"

	"github.com/JohannesNE/aarhus-covid19-datathon/internal/urlenc"
)

// KeyPrefix namespaces every checkpoint key.
const KeyPrefix = "tweetfetch:checkpoint"

// Key identifies the checkpoint of one paginated run.
type Key struct {
	// Operation is the scraper operation, e.g. "search" or "conversation".
	Operation string

	// Endpoint is the API endpoint path (e.g. "tweets/search/all").
	Endpoint string

	// Params are the base request parameters. The cursor parameter is
	// ignored.
	Params url.Values
}

// String generates a deterministic key string.
// Format: tweetfetch:checkpoint:operation:endpoint:k1=v1&k2=v2
//
// Example:
//
//	tweetfetch:checkpoint:search:tweets/search/all:end_time=2021-02-01T00%3A00%3A00Z&query=covid
func (k Key) String() string {
	parts := []string{KeyPrefix, k.Operation}

	if endpoint := strings.Trim(k.Endpoint, "/"); endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			if key == cursorParam {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			values := append([]string(nil), k.Params[key]...)
			sort.Strings(values)
			for _, v := range values {
				pairs = append(pairs, urlenc.Escape(key)+"="+urlenc.Escape(v))
			}
		}
		if len(pairs) > 0 {
			parts = append(parts, strings.Join(pairs, "&"))
		}
	}

	return strings.Join(parts, ":")
}

// cursorParam mirrors pagination.CursorParam without importing it.
const cursorParam = "next_token"
