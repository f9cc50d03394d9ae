package gosym

import "github.com/grafana/gosymtab/metrics"

// Option configures a LineTable.
type Option func(*options)

type options struct {
	cacheSize int
	metrics   *metrics.SymtabMetrics
}

const defaultCacheSize = 16

// WithCacheSize sets the capacity of the decode-position cache.
// A size of 0 disables the cache entirely; every query then decodes
// the line program from the function start. Decoded results are the
// same either way.
//
// The cache is guarded by a mutex. Callers that want a thread-confined
// cache instead can construct one LineTable handle per querying
// goroutine over the same buffer; construction does not copy the data.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithMetrics attaches cache hit/miss counters to the table.
func WithMetrics(m *metrics.SymtabMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
