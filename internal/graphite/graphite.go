// Package graphite publishes bill summaries and alarm metrics to the
// Graphite instance feeding the billing dashboards.
package graphite

import (
	"fmt"
	"sort"
	"strconv"

	metrics "github.com/marpaia/graphite-golang"
	"go.uber.org/zap"
)

// Publisher sends metric maps to Graphite under a fixed context
// prefix, one series per account.
type Publisher struct {
	client  *metrics.Graphite
	context string
	logger  *zap.Logger
}

// New connects to Graphite. The context is the dotted prefix the
// dashboards expect, for example "hepcloud.billing".
func New(host string, port int, context string, logger *zap.Logger) (*Publisher, error) {
	client, err := metrics.NewGraphite(host, port)
	if err != nil {
		return nil, fmt.Errorf("connecting to graphite at %s:%d: %w", host, port, err)
	}
	return &Publisher{client: client, context: context, logger: logger}, nil
}

// NewNop returns a publisher that logs instead of sending. Used for
// dry runs and tests.
func NewNop(context string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  metrics.NewGraphiteNop("", 0),
		context: context,
		logger:  logger,
	}
}

// Publish sends every metric as <context>.<series>.<key>. Keys are
// sent in sorted order so retries produce identical traffic.
func (p *Publisher) Publish(series string, values map[string]float64) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := fmt.Sprintf("%s.%s.%s", p.context, series, key)
		if err := p.client.SimpleSend(path, strconv.FormatFloat(values[key], 'f', -1, 64)); err != nil {
			return fmt.Errorf("sending %s: %w", path, err)
		}
	}
	p.logger.Debug("metrics published",
		zap.String("series", series),
		zap.Int("count", len(values)))
	return nil
}
