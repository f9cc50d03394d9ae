package metrics

import "github.com/prometheus/client_golang/prometheus"

type SymtabMetrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	SkippedSymbols prometheus.Counter
	BuildErrors    *prometheus.CounterVec
}

func NewSymtabMetrics(reg prometheus.Registerer) *SymtabMetrics {
	m := &SymtabMetrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gosymtab_lineprog_cache_hits_total",
			Help: "Total number of line program queries resumed from a cached decode position",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gosymtab_lineprog_cache_misses_total",
			Help: "Total number of line program queries decoded from the function start",
		}),
		SkippedSymbols: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gosymtab_skipped_symbols_total",
			Help: "Total number of legacy symbol records skipped because of an unrecognized tag",
		}),
		BuildErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gosymtab_build_errors_total",
			Help: "Total number of errors while building a symbol table",
		}, []string{"error"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheHits,
			m.CacheMisses,
			m.SkippedSymbols,
			m.BuildErrors,
		)
	}

	return m
}
