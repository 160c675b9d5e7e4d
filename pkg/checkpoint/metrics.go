package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// checkpointOps tracks store operations by outcome.
var checkpointOps = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tweetfetch_checkpoint_operations_total",
		Help: "Total checkpoint store operations by operation and result",
	},
	[]string{"operation", "result"}, // load/save/delete, hit/miss/ok/error
)
