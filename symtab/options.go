package symtab

import (
	"github.com/go-kit/log"

	"github.com/grafana/gosymtab/metrics"
)

// Option configures table construction.
type Option func(*options)

type options struct {
	logger  log.Logger
	metrics *metrics.SymtabMetrics
}

// WithLogger sets the logger used while building the table. Query
// paths never log.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics attaches build counters (skipped legacy records, build
// errors) to the table.
func WithMetrics(m *metrics.SymtabMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
