package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends everything in g to a Prometheus Pushgateway under job. Batch
// runs call it once on exit; an empty url disables pushing.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
