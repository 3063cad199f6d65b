package compute

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AggrMetrics counts hash table activity. A nil *AggrMetrics records
// nothing.
type AggrMetrics struct {
	Groups      prometheus.Counter
	Resizes     prometheus.Counter
	ProbeRounds prometheus.Counter
	Combines    prometheus.Counter
	ArenaBytes  prometheus.Gauge
}

// NewAggrMetrics creates the metrics and registers them to reg when reg
// is not nil.
func NewAggrMetrics(reg prometheus.Registerer) *AggrMetrics {
	ret := &AggrMetrics{
		Groups: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "aggrht",
				Subsystem: "hash_table",
				Name:      "groups_total",
				Help:      "Total number of groups created.",
			}),
		Resizes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "aggrht",
				Subsystem: "hash_table",
				Name:      "resizes_total",
				Help:      "Total number of directory rebuilds.",
			}),
		ProbeRounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "aggrht",
				Subsystem: "hash_table",
				Name:      "probe_rounds_total",
				Help:      "Total number of probe rounds over input batches.",
			}),
		Combines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "aggrht",
				Subsystem: "hash_table",
				Name:      "combines_total",
				Help:      "Total number of tables combined into another.",
			}),
		ArenaBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aggrht",
				Subsystem: "arena",
				Name:      "used_bytes",
				Help:      "Bytes accounted by the arena.",
			}),
	}
	if reg != nil {
		reg.MustRegister(ret.Groups, ret.Resizes, ret.ProbeRounds, ret.Combines, ret.ArenaBytes)
	}
	return ret
}

func (m *AggrMetrics) addGroups(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Groups.Add(float64(n))
}

func (m *AggrMetrics) incResizes() {
	if m == nil {
		return
	}
	m.Resizes.Inc()
}

func (m *AggrMetrics) incProbeRounds() {
	if m == nil {
		return
	}
	m.ProbeRounds.Inc()
}

func (m *AggrMetrics) incCombines() {
	if m == nil {
		return
	}
	m.Combines.Inc()
}

func (m *AggrMetrics) setArenaBytes(n int64) {
	if m == nil {
		return
	}
	m.ArenaBytes.Set(float64(n))
}
