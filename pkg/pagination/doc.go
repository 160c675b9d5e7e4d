// Package pagination drives cursor paginated endpoints and fans ID lookups
// out over a bounded worker pool.
//
// A Paginator turns an endpoint and its base parameters into a lazy sequence
// of normalized pages. The sequence follows meta.next_token until the API
// stops returning one and can be restarted from any cursor it produced:
//
//	p := pagination.NewPaginator(apiClient, normalize.Default())
//	for res, err := range p.Stream(ctx, "tweets/search/all", params, resume) {
//		if err != nil {
//			var se *pagination.StreamError
//			if errors.As(err, &se) {
//				// persist se.Cursor and retry later
//			}
//			return err
//		}
//		write(res.Page.Data)
//		save(res.Next)
//	}
//
// A BatchFetcher splits a list of IDs into chunks of at most 100 (the
// lookup endpoint maximum) and fetches them concurrently. Every request still
// goes through the rate limiter of the client, so concurrency only overlaps
// network latency; it never exceeds the quota.
package pagination
