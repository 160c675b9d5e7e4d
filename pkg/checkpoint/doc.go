// Package checkpoint persists pagination cursors so that an interrupted
// search resumes where it stopped.
//
// A checkpoint is saved after every page that was fully written to the
// output and deleted when the stream completes. Keys are derived from the
// operation and its parameters, so re-running the same command finds the
// checkpoint of the previous run:
//
//	store := checkpoint.NewRedisStore(redisClient, 7*24*time.Hour)
//	key := checkpoint.Key{Operation: "search", Endpoint: "tweets/search/all", Params: params}
//	cp, err := store.Load(ctx, key)
//	if errors.Is(err, checkpoint.ErrNotFound) {
//		// fresh run
//	}
//
// Redis is optional; MemoryStore keeps checkpoints for the process lifetime.
package checkpoint
