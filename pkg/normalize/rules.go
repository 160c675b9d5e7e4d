// Package normalize re-attaches the related entities ("includes") and field
// errors of a page to every primary entity, so each written record is
// self-contained.
//
// Cross references are declared as data: a Rule names where the reference
// ids live on an entity, which included collection resolves them and which
// destination bucket receives the resolved objects. A Rule may carry child
// rules that are resolved against the related object it found, which is how
// the author of a referenced tweet is attached without a top-level rule.
// Child rules nest exactly one level.
package normalize

import (
	"errors"
	"fmt"
)

// Keys written on every normalized entity.
const (
	IncludesKey = "includes"
	ErrorsKey   = "errors"
)

// maxChildDepth bounds the graph walk: top-level rules run at depth 0 and
// their children at depth 1.
const maxChildDepth = 1

// Lookup names an included collection and the field used to index it.
type Lookup struct {
	Collection string
	Key        string
}

// Rule declares one cross reference.
type Rule struct {
	// Expansion is the declared reference path. Field errors for ids that
	// could not be resolved are keyed by it.
	Expansion string

	// Path is the dot path of the reference on the entity, relative to the
	// object the rule is applied to.
	Path string

	// Multi marks Path as an array of references.
	Multi bool

	// ValuePath selects the id inside each array element. Empty means the
	// element itself is the id.
	ValuePath string

	// Lookup is the key into the lookup table.
	Lookup string

	// Bucket is the destination key under the entity's includes.
	Bucket string

	Children []Rule
}

// DefaultLookups indexes the included collections of the tweet API.
var DefaultLookups = map[string]Lookup{
	"media":           {Collection: "media", Key: "media_key"},
	"usersById":       {Collection: "users", Key: "id"},
	"usersByUsername": {Collection: "users", Key: "username"},
	"tweets":          {Collection: "tweets", Key: "id"},
	"places":          {Collection: "places", Key: "id"},
	"polls":           {Collection: "polls", Key: "id"},
}

// DefaultRules covers every expansion requested by the scraper.
var DefaultRules = []Rule{
	{Expansion: "attachments.poll_ids", Path: "attachments.poll_ids", Multi: true, Lookup: "polls", Bucket: "polls"},
	{Expansion: "attachments.media_keys", Path: "attachments.media_keys", Multi: true, Lookup: "media", Bucket: "media"},
	{Expansion: "author_id", Path: "author_id", Lookup: "usersById", Bucket: "users"},
	{Expansion: "entities.mentions.username", Path: "entities.mentions", Multi: true, ValuePath: "username", Lookup: "usersByUsername", Bucket: "users"},
	{Expansion: "geo.place_id", Path: "geo.place_id", Lookup: "places", Bucket: "places"},
	{Expansion: "in_reply_to_user_id", Path: "in_reply_to_user_id", Lookup: "usersById", Bucket: "users"},
	{
		Expansion: "referenced_tweets.id", Path: "referenced_tweets", Multi: true, ValuePath: "id", Lookup: "tweets", Bucket: "tweets",
		Children: []Rule{
			{Expansion: "referenced_tweets.id.author_id", Path: "author_id", Lookup: "usersById", Bucket: "users"},
		},
	},
}

// Expansions lists the top-level and child expansion paths of rules, in
// declaration order. It is the value of the "expansions" request parameter.
func Expansions(rules []Rule) []string {
	var out []string
	for _, r := range rules {
		out = append(out, r.Expansion)
		for _, c := range r.Children {
			out = append(out, c.Expansion)
		}
	}
	return out
}

// ErrInvalidRule is returned by New for a malformed rule table.
var ErrInvalidRule = errors.New("invalid cross reference rule")

func validateRules(rules []Rule, lookups map[string]Lookup, depth int) error {
	for _, r := range rules {
		if r.Path == "" || r.Bucket == "" {
			return fmt.Errorf("%w: %q needs a path and a bucket", ErrInvalidRule, r.Expansion)
		}
		if _, ok := lookups[r.Lookup]; !ok {
			return fmt.Errorf("%w: %q uses unknown lookup %q", ErrInvalidRule, r.Expansion, r.Lookup)
		}
		if !r.Multi && r.ValuePath != "" {
			return fmt.Errorf("%w: %q has a value path but is single valued", ErrInvalidRule, r.Expansion)
		}
		if len(r.Children) > 0 {
			if depth >= maxChildDepth {
				return fmt.Errorf("%w: %q nests deeper than %d level", ErrInvalidRule, r.Expansion, maxChildDepth)
			}
			if err := validateRules(r.Children, lookups, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
