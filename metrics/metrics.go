package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Symtab *SymtabMetrics
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Symtab: NewSymtabMetrics(reg),
	}
}
